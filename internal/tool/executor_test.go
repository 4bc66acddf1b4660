package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Aegis-MCP/internal/audit"
	"Aegis-MCP/internal/auth"
	xerrors "Aegis-MCP/internal/errors"
)

type stubBackend struct {
	name  string
	tools []string
	reply any
	err   error
	block bool

	mu      sync.Mutex
	calls   []string
	gotArgs map[string]any
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Descriptors() []Descriptor {
	descriptors := make([]Descriptor, 0, len(s.tools))
	for _, name := range s.tools {
		descriptors = append(descriptors, Descriptor{Name: name, Description: "stub tool"})
	}
	return descriptors
}

func (s *stubBackend) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, toolName)
	s.gotArgs = args
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubBackend) lastArgs() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gotArgs
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, entry audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAuditor) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

func newTestRegistry(t *testing.T, backends ...Invoker) *Registry {
	t.Helper()
	registry, err := NewRegistry(Definitions{}, backends...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return registry
}

func TestExecuteSuccessInjectsContext(t *testing.T) {
	backend := &stubBackend{
		name:  "gmail",
		tools: []string{"search_email_threads"},
		reply: map[string]any{"threads": []string{"t-1"}},
	}
	auditor := &recordingAuditor{}
	executor := NewExecutor(newTestRegistry(t, backend), WithRecorder(auditor))

	rc := &auth.RuntimeContext{
		UserID:      "user-1",
		Permissions: map[auth.Surface]bool{auth.SurfaceReadGmail: true},
		Credentials: map[string]string{"gmail_token": "tok-123"},
	}
	callerArgs := map[string]any{"query": "invoices"}

	result := executor.Execute(context.Background(), "search_email_threads", callerArgs, rc)
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if result.ToolName != "search_email_threads" || result.Surface != auth.SurfaceReadGmail {
		t.Fatalf("unexpected result identity: %+v", result)
	}

	got := backend.lastArgs()
	if got["query"] != "invoices" || got["user_id"] != "user-1" || got["access_token"] != "tok-123" {
		t.Fatalf("backend args missing injected context: %#v", got)
	}
	if len(callerArgs) != 1 {
		t.Fatalf("caller args must not be mutated, got %#v", callerArgs)
	}
	if len(rc.Credentials) != 1 || rc.Credentials["gmail_token"] != "tok-123" {
		t.Fatalf("runtime context must not be mutated, got %#v", rc.Credentials)
	}

	entries := auditor.all()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Kind != audit.KindToolCall || entry.Outcome != audit.OutcomeSuccess {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.ToolName != "search_email_threads" || entry.Surface != string(auth.SurfaceReadGmail) || entry.UserID != "user-1" {
		t.Fatalf("audit entry misses call identity: %+v", entry)
	}
}

func TestExecuteInjectsWalletAddress(t *testing.T) {
	backend := &stubBackend{name: "wallet", tools: []string{"get_wallet_portfolio"}, reply: "ok"}
	executor := NewExecutor(newTestRegistry(t, backend), WithRecorder(&recordingAuditor{}))

	rc := &auth.RuntimeContext{
		UserID:        "user-2",
		Permissions:   map[auth.Surface]bool{auth.SurfaceReadWallet: true},
		WalletAddress: "0xabc",
	}
	result := executor.Execute(context.Background(), "get_wallet_portfolio", nil, rc)
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Error)
	}
	if got := backend.lastArgs(); got["address"] != "0xabc" {
		t.Fatalf("wallet address not injected: %#v", got)
	}

	// 调用方显式给出的参数优先，注入不覆盖。
	result = executor.Execute(context.Background(), "get_wallet_portfolio", map[string]any{"address": "0xcaller"}, rc)
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Error)
	}
	if got := backend.lastArgs(); got["address"] != "0xcaller" {
		t.Fatalf("caller-provided address must win: %#v", got)
	}
}

func TestExecuteDeniedWithoutPermission(t *testing.T) {
	backend := &stubBackend{name: "gmail", tools: []string{"send_email"}, reply: "sent"}
	auditor := &recordingAuditor{}
	executor := NewExecutor(newTestRegistry(t, backend), WithRecorder(auditor))

	rc := &auth.RuntimeContext{
		UserID:      "user-3",
		Permissions: map[auth.Surface]bool{auth.SurfaceReadGmail: true},
	}
	result := executor.Execute(context.Background(), "send_email", map[string]any{"to": "a@b.c"}, rc)
	if result.Success {
		t.Fatal("expected denial for missing WRITE_GMAIL grant")
	}
	if !xerrors.IsCode(result.Err, xerrors.CodePermissionDenied) {
		t.Fatalf("expected CodePermissionDenied, got %v", result.Err)
	}
	if backend.callCount() != 0 {
		t.Fatal("backend must not be reached on denial")
	}

	entries := auditor.all()
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeDenied {
		t.Fatalf("denial must be audited, got %+v", entries)
	}
}

func TestExecuteUnclassifiableToolAlwaysDenied(t *testing.T) {
	backend := &stubBackend{name: "misc", tools: []string{"launch_rocket"}, reply: "boom"}
	auditor := &recordingAuditor{}
	executor := NewExecutor(newTestRegistry(t, backend), WithRecorder(auditor))

	// 即使授予全部能力面，无法归类的工具仍然被拒绝。
	rc := &auth.RuntimeContext{UserID: "user-4", Permissions: map[auth.Surface]bool{}}
	for _, surface := range auth.KnownSurfaces() {
		rc.Permissions[surface] = true
	}

	result := executor.Execute(context.Background(), "launch_rocket", nil, rc)
	if result.Success {
		t.Fatal("unclassifiable tool must never execute")
	}
	if !xerrors.IsCode(result.Err, xerrors.CodeUnclassifiableSurface) {
		t.Fatalf("expected CodeUnclassifiableSurface, got %v", result.Err)
	}
	if result.Surface != auth.SurfaceUnknown {
		t.Fatalf("expected UNKNOWN surface, got %s", result.Surface)
	}
	if backend.callCount() != 0 {
		t.Fatal("backend must not be reached")
	}
	entries := auditor.all()
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeDenied {
		t.Fatalf("expected denied audit entry, got %+v", entries)
	}
}

func TestExecuteBackendErrorBecomesToolExecution(t *testing.T) {
	backend := &stubBackend{
		name:  "telegram",
		tools: []string{"get_telegram_messages"},
		err:   errors.New("upstream 500"),
	}
	auditor := &recordingAuditor{}
	executor := NewExecutor(newTestRegistry(t, backend), WithRecorder(auditor))

	rc := &auth.RuntimeContext{
		UserID:      "user-5",
		Permissions: map[auth.Surface]bool{auth.SurfaceReadSocialTelegram: true},
	}
	result := executor.Execute(context.Background(), "get_telegram_messages", nil, rc)
	if result.Success {
		t.Fatal("expected failure")
	}
	if !xerrors.IsCode(result.Err, xerrors.CodeToolExecution) {
		t.Fatalf("expected CodeToolExecution, got %v", result.Err)
	}
	if result.Error == "" {
		t.Fatal("wire error string must be populated")
	}
	entries := auditor.all()
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeFailed {
		t.Fatalf("expected failed audit entry, got %+v", entries)
	}
}

func TestExecuteTimeout(t *testing.T) {
	backend := &stubBackend{name: "slow", tools: []string{"get_email_content"}, block: true}
	executor := NewExecutor(newTestRegistry(t, backend),
		WithRecorder(&recordingAuditor{}),
		WithTimeout(20*time.Millisecond))

	rc := &auth.RuntimeContext{
		UserID:      "user-6",
		Permissions: map[auth.Surface]bool{auth.SurfaceReadGmail: true},
	}
	start := time.Now()
	result := executor.Execute(context.Background(), "get_email_content", nil, rc)
	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if !xerrors.IsCode(result.Err, xerrors.CodeToolExecution) {
		t.Fatalf("expected CodeToolExecution, got %v", result.Err)
	}
	if !errors.Is(result.Err, context.DeadlineExceeded) {
		t.Fatalf("cause must be DeadlineExceeded, got %v", result.Err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout did not bound the call, took %s", elapsed)
	}
}

func TestExecuteUnregisteredTool(t *testing.T) {
	auditor := &recordingAuditor{}
	executor := NewExecutor(newTestRegistry(t), WithRecorder(auditor))

	result := executor.Execute(context.Background(), "send_email", nil, &auth.RuntimeContext{UserID: "user-7"})
	if result.Success {
		t.Fatal("expected failure for unregistered tool")
	}
	if !xerrors.IsCode(result.Err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected CodeInvalidArgument, got %v", result.Err)
	}
	entries := auditor.all()
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeFailed || entries[0].ToolName != "send_email" {
		t.Fatalf("unregistered call must still be audited, got %+v", entries)
	}
}
