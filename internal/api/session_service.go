package api

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/store"
)

// Control implements ControlServer on top of the chat service.
type Control struct {
	sessionName string
	startedAt   time.Time
	svc         *chat.Service
	db          *store.DB
	logger      *zap.Logger
}

var _ ControlServer = (*Control)(nil)

// NewControl creates the control service. db may be nil, which disables
// search and mirror counts.
func NewControl(sessionName string, svc *chat.Service, db *store.DB, logger *zap.Logger) *Control {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Control{
		sessionName: sessionName,
		startedAt:   time.Now(),
		svc:         svc,
		db:          db,
		logger:      logger.Named("api"),
	}
}

func (c *Control) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	states := c.svc.Statuses()
	convs := make([]int64, 0, len(states))
	for id := range states {
		convs = append(convs, id)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i] < convs[j] })

	connections := make(map[string]any, len(states))
	for _, id := range convs {
		connections[strconv.FormatInt(id, 10)] = string(states[id])
	}

	resp := map[string]any{
		"session":      c.sessionName,
		"uptime_ms":    time.Since(c.startedAt).Milliseconds(),
		"current_user": c.svc.CurrentUser(),
		"connections":  connections,
		"dialogs":      len(c.svc.Dialogs()),
	}
	if c.db != nil {
		if counts, err := c.db.Counts(); err == nil {
			resp["mirrored_messages"] = counts.Messages
			resp["mirrored_conversations"] = counts.Conversations
		} else {
			c.logger.Warn("mirror counts failed", zap.Error(err))
		}
	}
	return reply(resp)
}

func (c *Control) Connect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convID, err := intField(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	if err := c.svc.Connect(ctx, convID, stringField(req, "token")); err != nil {
		return nil, toStatus("connect", err)
	}
	return reply(map[string]any{"conversation_id": convID, "state": string(c.svc.Status(convID))})
}

func (c *Control) Disconnect(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convID, err := intField(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	c.svc.Disconnect(convID)
	return reply(map[string]any{"conversation_id": convID, "state": string(c.svc.Status(convID))})
}

func (c *Control) Logout(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := c.svc.Logout(); err != nil {
		return nil, toStatus("logout", err)
	}
	if c.db != nil {
		if err := c.db.Reset(); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "reset mirror: %v", err)
		}
	}
	return reply(map[string]any{"success": true, "message": "logged out"})
}
