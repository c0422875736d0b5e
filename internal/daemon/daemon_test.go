package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/fx"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
)

type offlineDialer struct{}

func (offlineDialer) Dial(context.Context, string) (transport.Conn, error) {
	return nil, errors.New("offline")
}

// shortTempDir keeps unix socket paths under the 104-char limit on macOS.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestDaemonLifecycle(t *testing.T) {
	tmpDir := shortTempDir(t, "chatsync-test-*")
	socketPath := filepath.Join(tmpDir, "d.sock")

	db, err := store.Open(filepath.Join(tmpDir, "mirror.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	svc := chat.New(chat.Options{Dialer: offlineDialer{}, Tokens: auth.NewStatic("T")})
	defer svc.Close()

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zap.NewNop(), api.NewControl("test", svc, db, nil))
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("socket mode = %v, want 0600", info.Mode().Perm())
	}

	conn, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	health, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		t.Fatalf("health check error = %v", err)
	}
	if health.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health = %v, want SERVING", health.Status)
	}

	resp, err := api.NewClient(conn).Call(context.Background(), api.MethodGetStatus, nil)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if resp["session"] != "test" {
		t.Errorf("session = %v, want test", resp["session"])
	}
	if resp["mirrored_messages"] != float64(0) {
		t.Errorf("mirrored_messages = %v, want 0", resp["mirrored_messages"])
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	t.Setenv("CHATSYNC_HOME", shortTempDir(t, "chatsync-fx-*"))

	if err := fx.ValidateApp(Module(Params{SessionName: "fxtest"})); err != nil {
		t.Fatalf("ValidateApp() = %v", err)
	}
}

func newBackend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"id":7,"username":"ana"}`))
	})
	mux.HandleFunc("GET /chat/list", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[{"id":1,"name":"general","lastMessage":{"id":10,"chatID":1,"senderID":8,"message":"hi","createdAt":1704067200000}}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestBootstrap(t *testing.T) {
	srv, _ := newBackend(t)
	tokens := auth.NewFileTokens(filepath.Join(t.TempDir(), "token"))
	if err := tokens.Set("T"); err != nil {
		t.Fatal(err)
	}
	client := rest.NewClient(srv.URL, tokens, nil)
	svc := chat.New(chat.Options{Dialer: offlineDialer{}, Backend: client, Tokens: tokens})
	defer svc.Close()

	bootstrap(context.Background(), svc, client, tokens, zap.NewNop())

	if got := svc.CurrentUser(); got != 7 {
		t.Errorf("current user = %d, want 7", got)
	}
	dialogs := svc.Dialogs()
	if len(dialogs) != 1 || dialogs[0].Name != "general" {
		t.Fatalf("dialogs = %+v", dialogs)
	}
}

func TestBootstrapWithoutToken(t *testing.T) {
	srv, hits := newBackend(t)
	tokens := auth.NewFileTokens(filepath.Join(t.TempDir(), "token"))
	client := rest.NewClient(srv.URL, tokens, nil)
	svc := chat.New(chat.Options{Dialer: offlineDialer{}, Backend: client, Tokens: tokens})
	defer svc.Close()

	bootstrap(context.Background(), svc, client, tokens, zap.NewNop())

	if n := hits.Load(); n != 0 {
		t.Errorf("backend hit %d times without a token", n)
	}
	if len(svc.Dialogs()) != 0 {
		t.Errorf("dialogs = %+v, want none", svc.Dialogs())
	}
}
