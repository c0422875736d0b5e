package api

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/dialog"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/realtime"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	csync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/timeline"
)

func intField(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "missing %s", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	return int64(n.NumberValue), nil
}

func optInt(req *structpb.Struct, name string) int64 {
	return int64(req.GetFields()[name].GetNumberValue())
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func boolField(req *structpb.Struct, name string) bool {
	return req.GetFields()[name].GetBoolValue()
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps service errors to gRPC status codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, realtime.ErrNotConnected):
		code = codes.FailedPrecondition
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, realtime.ErrNoToken):
		code = codes.InvalidArgument
	case errors.Is(err, chat.ErrUnknownMessage):
		code = codes.NotFound
	case errors.Is(err, auth.ErrNoToken), errors.Is(err, rest.ErrUnauthorized):
		code = codes.Unauthenticated
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func ids(in []int64) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func messageFields(m timeline.Message) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"text":            m.Text,
		"timestamp":       m.Timestamp,
		"edited_at":       m.EditedAt,
		"edited":          m.Edited(),
		"deleted":         m.Deleted,
		"pending":         m.Pending,
		"read_by":         ids(m.ReadBy),
	}
}

func messagesFields(msgs []timeline.Message) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = messageFields(m)
	}
	return out
}

func summaryFields(s dialog.Summary) map[string]any {
	return map[string]any{
		"id":              s.ID,
		"name":            s.Name,
		"last_message_id": s.LastMessageID,
		"last_message":    s.LastMessage,
		"last_time":       s.LastTime,
		"last_deleted":    s.LastDeleted,
		"unread":          s.Unread,
	}
}

func summariesFields(list []dialog.Summary) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = summaryFields(s)
	}
	return out
}

func profileFields(p profile.Profile) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"name":         p.Name(),
		"username":     p.Username,
		"display_name": p.DisplayName,
		"phone":        p.Phone,
		"stale":        p.Stale,
		"placeholder":  p.Placeholder,
	}
}

func searchFields(results []store.SearchResult) []any {
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{
			"conversation_id": r.Message.ConversationID,
			"id":              r.Message.MsgID,
			"sender_id":       r.Message.SenderID,
			"text":            r.Message.Body,
			"timestamp":       r.Message.Timestamp,
			"snippet":         r.Snippet,
		}
	}
	return out
}

// payloadFields encodes a bus event payload.
func payloadFields(payload any) (map[string]any, error) {
	switch p := payload.(type) {
	case timeline.Message:
		return messageFields(p), nil
	case csync.History:
		return map[string]any{"messages": messagesFields(p.Messages), "has_more": p.HasMore}, nil
	case status.Change:
		return map[string]any{
			"from":         string(p.From),
			"to":           string(p.To),
			"attempt":      p.Detail.Attempt,
			"retry_in_ms":  p.Detail.RetryIn.Milliseconds(),
			"reason":       p.Detail.Reason,
			"intentional":  p.Detail.Intentional,
			"unauthorized": p.Detail.Unauthorized,
		}, nil
	case presence.Set:
		users := make([]any, len(p.Users))
		for i, u := range p.Users {
			users[i] = map[string]any{"id": u.ID, "name": u.Name}
		}
		return map[string]any{"users": users}, nil
	case csync.Ack:
		return map[string]any{"message_id": p.MessageID, "timestamp": p.Timestamp}, nil
	case csync.RoomEvent:
		return map[string]any{"type": string(p.Type), "user_id": p.UserID, "username": p.Username, "text": p.Text}, nil
	case []dialog.Summary:
		return map[string]any{"dialogs": summariesFields(p)}, nil
	case realtime.Unauthorized:
		return map[string]any{"code": p.Code, "reason": p.Reason}, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("unsupported payload %T", payload)
	}
}
