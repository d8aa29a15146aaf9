package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/storage"
)

type fakeUserRepo struct {
	createFunc    func(ctx context.Context, phoneNumber, fullName string) (*storage.User, error)
	getOrCreateFn func(ctx context.Context, phoneNumber, fullName string) (*storage.User, bool, error)
}

func (f *fakeUserRepo) Create(ctx context.Context, phoneNumber, fullName string) (*storage.User, error) {
	return f.createFunc(ctx, phoneNumber, fullName)
}
func (f *fakeUserRepo) GetByPhone(context.Context, string) (*storage.User, error) { return nil, nil }
func (f *fakeUserRepo) GetByID(context.Context, string) (*storage.User, error)    { return nil, nil }
func (f *fakeUserRepo) Update(context.Context, string, string) (*storage.User, error) {
	return nil, nil
}
func (f *fakeUserRepo) Delete(context.Context, string) (bool, error) { return false, nil }

func (f *fakeUserRepo) GetOrCreate(ctx context.Context, phoneNumber, fullName string) (*storage.User, bool, error) {
	if f.getOrCreateFn != nil {
		return f.getOrCreateFn(ctx, phoneNumber, fullName)
	}
	u, err := f.createFunc(ctx, phoneNumber, fullName)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func newTestContext() *sessionctx.GlobalContext {
	sess := sessionctx.NewSessionContext("sess-1", sessionctx.PlatformTelephony)
	sess.Metadata["phone_number"] = "+15550100"
	return sessionctx.NewGlobalContext("corevox", "test", "test", sess, []string{"router", "identity", "task_manager"})
}

func TestCreateUserTool_NormalizesPhoneAndCreates(t *testing.T) {
	var gotPhone string
	repo := &fakeUserRepo{
		createFunc: func(_ context.Context, phoneNumber, fullName string) (*storage.User, error) {
			gotPhone = phoneNumber
			return &storage.User{ID: "u1", PhoneNumber: phoneNumber, FullName: fullName, CreatedAt: time.Now()}, nil
		},
	}
	id := New(repo, nil)

	var tool = id.ToolList[0]
	if tool.Name != "create_user" {
		t.Fatalf("tool name = %q, want create_user", tool.Name)
	}

	result, err := tool.Invoke(context.Background(), map[string]any{
		"phone_number": "+1 555-010-0",
		"full_name":    "Alice Ng",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if gotPhone != "+15550100" {
		t.Errorf("phone passed to repo = %q, want normalized +15550100", gotPhone)
	}

	m, ok := result.(map[string]any)
	if !ok || m["success"] != true {
		t.Fatalf("result = %+v, want success=true", result)
	}
	if m["user_id"] != "u1" {
		t.Errorf("user_id = %v, want u1", m["user_id"])
	}
}

func TestCreateUserTool_FailureSurfacedAsResult(t *testing.T) {
	repo := &fakeUserRepo{
		createFunc: func(context.Context, string, string) (*storage.User, error) {
			return nil, errors.New("already exists")
		},
	}
	id := New(repo, nil)

	result, err := id.ToolList[0].Invoke(context.Background(), map[string]any{
		"phone_number": "+15550100",
		"full_name":    "Alice Ng",
	})
	if err != nil {
		t.Fatalf("Invoke() unexpected error = %v", err)
	}
	m := result.(map[string]any)
	if m["success"] != false {
		t.Fatalf("result = %+v, want success=false", result)
	}
}

func TestCreateUserTool_RepeatCallerReturnsWelcomeBack(t *testing.T) {
	repo := &fakeUserRepo{
		getOrCreateFn: func(_ context.Context, phoneNumber, fullName string) (*storage.User, bool, error) {
			return &storage.User{ID: "u1", PhoneNumber: phoneNumber, FullName: "Alice Ng"}, false, nil
		},
	}
	id := New(repo, nil)

	result, err := id.ToolList[0].Invoke(context.Background(), map[string]any{
		"phone_number": "+15550100",
		"full_name":    "Alice Ng",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	m := result.(map[string]any)
	if m["message"] != "Welcome back." {
		t.Errorf("message = %v, want %q for a repeat caller", m["message"], "Welcome back.")
	}
}

func TestRenderPrompt_SubstitutesPhoneNumber(t *testing.T) {
	id := New(&fakeUserRepo{}, nil)
	gctx := newTestContext()

	rendered := id.RenderPrompt(gctx)
	if !strings.Contains(rendered, "+15550100") {
		t.Errorf("rendered prompt = %q, want phone number substituted", rendered)
	}
	if strings.Contains(rendered, "{{phone_number}}") {
		t.Errorf("rendered prompt still has unsubstituted placeholder: %q", rendered)
	}
}

func TestRenderPrompt_UnknownWhenNoPhoneMetadata(t *testing.T) {
	id := New(&fakeUserRepo{}, nil)
	sess := sessionctx.NewSessionContext("sess-2", sessionctx.PlatformTelephony)
	gctx := sessionctx.NewGlobalContext("corevox", "test", "test", sess, nil)

	rendered := id.RenderPrompt(gctx)
	if !strings.Contains(rendered, "unknown") {
		t.Errorf("rendered prompt = %q, want 'unknown' phone placeholder", rendered)
	}
}

func TestHandleToolResult_SuccessProducesSpokenReply(t *testing.T) {
	id := New(&fakeUserRepo{}, nil)
	resp, err := id.HandleToolResult(context.Background(), nil, "create_user",
		map[string]any{"success": true, "user_id": "u1"}, nil)
	if err != nil {
		t.Fatalf("HandleToolResult() error = %v", err)
	}
	if resp == nil || resp.Text == "" {
		t.Fatalf("HandleToolResult() = %+v, want non-empty spoken reply", resp)
	}
}

func TestHandleToolResult_IgnoresOtherTools(t *testing.T) {
	id := New(&fakeUserRepo{}, nil)
	resp, err := id.HandleToolResult(context.Background(), nil, "some_other_tool", nil, nil)
	if err != nil {
		t.Fatalf("HandleToolResult() error = %v", err)
	}
	if resp != nil {
		t.Fatalf("HandleToolResult() = %+v, want nil for unrelated tool", resp)
	}
}
