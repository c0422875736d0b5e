package api

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
)

type fakeBackend struct{}

func (fakeBackend) ListChats(context.Context) ([]rest.Chat, error) {
	return []rest.Chat{
		{ID: 1, Name: "general", LastMessage: &rest.Message{ID: 10, SenderID: 2, Text: "hello world", CreatedAt: 100}},
		{ID: 2, Name: "random"},
	}, nil
}

func (fakeBackend) ChatMessages(context.Context, int64, string, int, rest.Direction) (rest.MessagesPage, error) {
	return rest.MessagesPage{}, nil
}

func (fakeBackend) User(_ context.Context, id int64) (rest.User, error) {
	if id == 404 {
		return rest.User{}, &rest.APIError{Status: 404, Message: "not found"}
	}
	name := "ana"
	return rest.User{ID: id, DisplayName: &name}, nil
}

type noDialer struct{}

func (noDialer) Dial(context.Context, string) (transport.Conn, error) {
	return nil, errors.New("offline")
}

func newTestClient(t *testing.T) (*Client, *chat.Service) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc := chat.New(chat.Options{Dialer: noDialer{}, Backend: fakeBackend{}, Tokens: auth.NewStatic("T")})
	t.Cleanup(svc.Close)
	mirror := store.NewMirror(db, nil)
	mirror.Start(svc.Bus())
	t.Cleanup(mirror.Stop)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterControlServer(srv, NewControl("test", svc, db, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), svc
}

func TestListDialogsAndMessages(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	resp, err := c.Call(ctx, MethodListDialogs, map[string]any{"refresh": true})
	if err != nil {
		t.Fatal(err)
	}
	dialogs := resp["dialogs"].([]any)
	if len(dialogs) != 2 {
		t.Fatalf("dialogs = %v", dialogs)
	}
	first := dialogs[0].(map[string]any)
	if first["name"] != "general" || first["last_message"] != "hello world" {
		t.Errorf("first dialog = %v", first)
	}

	resp, err = c.Call(ctx, MethodListMessages, map[string]any{"conversation_id": 1})
	if err != nil {
		t.Fatal(err)
	}
	if msgs := resp["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v", msgs)
	}

	resp, err = c.Call(ctx, MethodSearchMessages, map[string]any{"query": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if results := resp["results"].([]any); len(results) != 1 {
		t.Errorf("search results = %v", results)
	}

	resp, err = c.Call(ctx, MethodGetStatus, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp["session"] != "test" || resp["mirrored_messages"] != float64(1) {
		t.Errorf("status = %v", resp)
	}
}

func TestErrorCodes(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		fields map[string]any
		code   codes.Code
	}{
		{"send while offline", MethodSendText, map[string]any{"conversation_id": 1, "text": "hi"}, codes.FailedPrecondition},
		{"blank text", MethodSendText, map[string]any{"conversation_id": 1, "text": " "}, codes.InvalidArgument},
		{"missing conversation", MethodSendText, map[string]any{"text": "hi"}, codes.InvalidArgument},
		{"unknown message", MethodDeleteMessage, map[string]any{"conversation_id": 1, "message_id": 99}, codes.NotFound},
		{"empty search", MethodSearchMessages, map[string]any{}, codes.InvalidArgument},
		{"bad user id", MethodGetUser, map[string]any{"id": 0}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Call(ctx, tt.method, tt.fields)
			if got := grpcstatus.Code(err); got != tt.code {
				t.Errorf("code = %s, want %s (err %v)", got, tt.code, err)
			}
		})
	}
}

func TestGetUserFallsBackToPlaceholder(t *testing.T) {
	c, _ := newTestClient(t)
	resp, err := c.Call(context.Background(), MethodGetUser, map[string]any{"id": 404})
	if err != nil {
		t.Fatal(err)
	}
	if resp["placeholder"] != true {
		t.Errorf("profile = %v, want placeholder", resp)
	}
	resp, err = c.Call(context.Background(), MethodGetUser, map[string]any{"id": 3})
	if err != nil {
		t.Fatal(err)
	}
	if resp["name"] != "ana" {
		t.Errorf("profile = %v", resp)
	}
}

func TestWatchStreamsEvents(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := make(chan map[string]any, 16)
	go func() {
		_ = c.Watch(ctx, "dialogs.", func(evt map[string]any) error {
			events <- evt
			return nil
		})
	}()

	// The subscription starts asynchronously, so keep producing until one lands.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt := <-events:
			if evt["kind"] != "dialogs.changed" || evt["event_id"] == "" {
				t.Errorf("event = %v", evt)
			}
			payload := evt["payload"].(map[string]any)
			if len(payload["dialogs"].([]any)) != 2 {
				t.Errorf("payload = %v", payload)
			}
			return
		case <-tick.C:
			if _, err := c.Call(ctx, MethodListDialogs, map[string]any{"refresh": true}); err != nil {
				t.Fatal(err)
			}
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}
