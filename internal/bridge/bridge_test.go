package bridge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/corevox/corevox/internal/bridge"
	"github.com/corevox/corevox/internal/corerr"
	"github.com/corevox/corevox/internal/llmsession"
	"github.com/corevox/corevox/internal/llmsession/fake"
	"github.com/corevox/corevox/internal/storage"
)

type fakeUserRepo struct {
	byPhone map[string]*storage.User
}

func (f *fakeUserRepo) Create(context.Context, string, string) (*storage.User, error) { return nil, nil }
func (f *fakeUserRepo) GetByPhone(_ context.Context, phone string) (*storage.User, error) {
	return f.byPhone[phone], nil
}
func (f *fakeUserRepo) GetByID(context.Context, string) (*storage.User, error) { return nil, nil }
func (f *fakeUserRepo) Update(context.Context, string, string) (*storage.User, error) {
	return nil, nil
}
func (f *fakeUserRepo) Delete(context.Context, string) (bool, error) { return false, nil }
func (f *fakeUserRepo) GetOrCreate(ctx context.Context, phoneNumber, fullName string) (*storage.User, bool, error) {
	if u, ok := f.byPhone[phoneNumber]; ok {
		return u, false, nil
	}
	return &storage.User{PhoneNumber: phoneNumber, FullName: fullName}, true, nil
}

type fakeTaskRepo struct {
	openCount int
}

func (f *fakeTaskRepo) Create(context.Context, string, string, int, *time.Time) (*storage.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) GetByID(context.Context, string) (*storage.Task, error) { return nil, nil }
func (f *fakeTaskRepo) GetByUser(context.Context, string, *storage.TaskStatus, *int, int) ([]storage.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) Search(context.Context, string, string, *storage.TaskStatus) ([]storage.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) Update(context.Context, string, string, int, *time.Time) (*storage.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) UpdateStatus(context.Context, string, storage.TaskStatus) (*storage.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) Delete(context.Context, string) error { return nil }
func (f *fakeTaskRepo) GetDueToday(context.Context, string) ([]storage.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) GetHighPriority(context.Context, string, int) ([]storage.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) GetOpenCount(context.Context, string) (int, error) { return f.openCount, nil }

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startCarrierServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return conn
}

func TestHandleCall_UnknownCallerActivatesIdentity(t *testing.T) {
	srv := startCarrierServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`{"event":"start","start":{"streamSid":"MZ1","customParameters":{"caller":"+15550000000"}}}`))
		time.Sleep(50 * time.Millisecond)
		conn.Write(ctx, websocket.MessageText, []byte(`{"event":"stop"}`))
	})
	conn := dial(t, srv)

	provider := &fake.Provider{}
	users := &fakeUserRepo{byPhone: map[string]*storage.User{}}
	tasks := &fakeTaskRepo{}
	b := bridge.New(provider, users, tasks, nil, "corevox", "test", "test", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.HandleCall(ctx, conn, "+10000000000"); err != nil {
		t.Fatalf("HandleCall() error = %v", err)
	}

	if len(provider.Sessions) != 1 {
		t.Fatalf("opened %d sessions, want 1 (identity)", len(provider.Sessions))
	}
	opener := provider.Sessions[0]
	if len(opener.SentText) != 1 {
		t.Fatalf("sent %d opener texts, want 1", len(opener.SentText))
	}
	if !strings.Contains(opener.SentText[0], "create an account") {
		t.Errorf("opener text = %q, want identity greeting", opener.SentText[0])
	}
}

func TestHandleCall_KnownCallerActivatesTaskManagerWithOpenTaskCount(t *testing.T) {
	srv := startCarrierServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`{"event":"start","start":{"streamSid":"MZ2","customParameters":{"caller":"+15551234567"}}}`))
		time.Sleep(50 * time.Millisecond)
		conn.Write(ctx, websocket.MessageText, []byte(`{"event":"stop"}`))
	})
	conn := dial(t, srv)

	provider := &fake.Provider{}
	users := &fakeUserRepo{byPhone: map[string]*storage.User{
		"+15551234567": {ID: "u1", PhoneNumber: "+15551234567", FullName: "Ada"},
	}}
	tasks := &fakeTaskRepo{openCount: 3}
	b := bridge.New(provider, users, tasks, nil, "corevox", "test", "test", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.HandleCall(ctx, conn, "+10000000000"); err != nil {
		t.Fatalf("HandleCall() error = %v", err)
	}

	if len(provider.Sessions) != 1 {
		t.Fatalf("opened %d sessions, want 1 (task_manager)", len(provider.Sessions))
	}
	opener := provider.Sessions[0]
	if len(opener.SentText) != 1 {
		t.Fatalf("sent %d opener texts, want 1", len(opener.SentText))
	}
	if !strings.Contains(opener.SentText[0], "Ada") || !strings.Contains(opener.SentText[0], "3 active tasks") {
		t.Errorf("opener text = %q, want to name Ada and 3 active tasks", opener.SentText[0])
	}
}

func TestHandleCall_ProviderOpenFailureIsReturned(t *testing.T) {
	srv := startCarrierServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`{"event":"start","start":{"streamSid":"MZ3"}}`))
		time.Sleep(50 * time.Millisecond)
	})
	conn := dial(t, srv)

	provider := failingProvider{err: errors.New("dial refused")}
	users := &fakeUserRepo{byPhone: map[string]*storage.User{}}
	tasks := &fakeTaskRepo{}
	b := bridge.New(provider, users, tasks, nil, "corevox", "test", "test", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.HandleCall(ctx, conn, "+10000000000"); err == nil {
		t.Fatal("HandleCall() error = nil, want provider open error")
	}
}

type failingProvider struct{ err error }

func (p failingProvider) Open(context.Context, llmsession.Config) (llmsession.Session, error) {
	return nil, p.err
}

func TestHandleCall_AbnormalCloseSurfacesSessionExpiredError(t *testing.T) {
	srv := startCarrierServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`{"event":"start","start":{"streamSid":"MZ4"}}`))
		// Block on a read until the test forcibly severs the connection
		// (no close frame), then return so the server-side handler exits
		// promptly instead of holding the httptest.Server open.
		conn.Read(ctx)
	})
	conn := dial(t, srv)

	provider := &fake.Provider{}
	users := &fakeUserRepo{byPhone: map[string]*storage.User{}}
	tasks := &fakeTaskRepo{}
	b := bridge.New(provider, users, tasks, nil, "corevox", "test", "test", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(100 * time.Millisecond)
		srv.CloseClientConnections()
	}()

	err := b.HandleCall(ctx, conn, "+10000000000")
	var expired *corerr.SessionExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("HandleCall() error = %v, want a *corerr.SessionExpiredError in the chain", err)
	}
}
