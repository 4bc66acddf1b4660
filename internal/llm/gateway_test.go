package llm

import (
	"context"
	"errors"
	"reflect"
	"testing"

	xerrors "Aegis-MCP/internal/errors"
)

type stubProvider struct {
	name    string
	reply   *Message
	err     error
	invokes [][]Message
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Invoke(_ context.Context, messages []Message, _ Options) (*Message, error) {
	s.invokes = append(s.invokes, append([]Message(nil), messages...))
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

type stubToolProvider struct {
	stubProvider
	toolReply *Message
	toolErr   error
	toolCalls int
}

func (s *stubToolProvider) InvokeWithTools(_ context.Context, messages []Message, _ []ToolSchema, _ Options) (*Message, error) {
	s.toolCalls++
	if s.toolErr != nil {
		return nil, s.toolErr
	}
	return s.toolReply, nil
}

func TestInvokePrimarySuccess(t *testing.T) {
	primary := &stubProvider{name: "primary", reply: &Message{Role: RoleAssistant, Content: "hello"}}
	fallback := &stubProvider{name: "fallback", reply: &Message{Role: RoleAssistant, Content: "other"}}
	gateway := NewGateway(primary, fallback)

	reply, err := gateway.Invoke(context.Background(), []Message{UserMessage("hi")}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Content != "hello" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if len(fallback.invokes) != 0 {
		t.Fatalf("fallback must not be called when primary succeeds")
	}
	stats := gateway.Snapshot()
	if stats.PrimaryCount != 1 || stats.FallbackCount != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestInvokeFallsBackWithIdenticalMessages(t *testing.T) {
	primary := &stubProvider{name: "primary", err: context.DeadlineExceeded}
	fallback := &stubProvider{name: "fallback", reply: &Message{Role: RoleAssistant, Content: "ok"}}
	gateway := NewGateway(primary, fallback)

	messages := []Message{
		SystemMessage("be helpful"),
		UserMessage("what is my balance?"),
	}
	reply, err := gateway.Invoke(context.Background(), messages, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Content != "ok" {
		t.Fatalf("expected fallback reply, got %+v", reply)
	}
	if len(fallback.invokes) != 1 || !reflect.DeepEqual(fallback.invokes[0], messages) {
		t.Fatalf("fallback must receive the identical message sequence, got %+v", fallback.invokes)
	}
	stats := gateway.Snapshot()
	if stats.PrimaryCount != 0 || stats.FallbackCount != 1 {
		t.Fatalf("exactly the fallback counter must increment, got %+v", stats)
	}
}

func TestInvokeBothFail(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("primary boom")}
	fallback := &stubProvider{name: "fallback", err: errors.New("fallback boom")}
	gateway := NewGateway(primary, fallback)

	_, err := gateway.Invoke(context.Background(), []Message{UserMessage("hi")}, Options{})
	if !xerrors.IsCode(err, xerrors.CodeProviderUnavailable) {
		t.Fatalf("expected PROVIDER_UNAVAILABLE, got %v", err)
	}
	stats := gateway.Snapshot()
	if stats.PrimaryCount != 0 || stats.FallbackCount != 0 {
		t.Fatalf("counters must not move on total failure, got %+v", stats)
	}
}

func TestInvokeNoProviderConfigured(t *testing.T) {
	gateway := NewGateway(nil, nil)
	if gateway.Available() {
		t.Fatalf("gateway without providers must report unavailable")
	}
	_, err := gateway.Invoke(context.Background(), []Message{UserMessage("hi")}, Options{})
	if !xerrors.IsCode(err, xerrors.CodeNoProviderConfigured) {
		t.Fatalf("expected NO_PROVIDER_CONFIGURED, got %v", err)
	}
}

func TestInvokePrimaryOnlyFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("down")}
	gateway := NewGateway(primary, nil)

	_, err := gateway.Invoke(context.Background(), []Message{UserMessage("hi")}, Options{})
	if !xerrors.IsCode(err, xerrors.CodeProviderUnavailable) {
		t.Fatalf("expected PROVIDER_UNAVAILABLE, got %v", err)
	}
}

func TestInvokeWithToolsPrimarySuccess(t *testing.T) {
	primary := &stubToolProvider{
		stubProvider: stubProvider{name: "primary"},
		toolReply: &Message{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{Name: "get_wallet_portfolio", Arguments: map[string]any{}}},
		},
	}
	gateway := NewGateway(primary, nil)

	tools := []ToolSchema{{Name: "get_wallet_portfolio"}}
	reply, err := gateway.InvokeWithTools(context.Background(), []Message{UserMessage("balance?")}, tools, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Name != "get_wallet_portfolio" {
		t.Fatalf("expected tool call reply, got %+v", reply)
	}
	if primary.toolCalls != 1 {
		t.Fatalf("expected one tool invocation, got %d", primary.toolCalls)
	}
	if stats := gateway.Snapshot(); stats.PrimaryCount != 1 {
		t.Fatalf("tool success must count as a primary invocation, got %+v", stats)
	}
}

func TestInvokeWithToolsDegradesToPlainInvoke(t *testing.T) {
	primary := &stubToolProvider{
		stubProvider: stubProvider{name: "primary", reply: &Message{Role: RoleAssistant, Content: "plain"}},
		toolErr:      errors.New("function calling unsupported"),
	}
	gateway := NewGateway(primary, nil)

	reply, err := gateway.InvokeWithTools(context.Background(), []Message{UserMessage("hi")}, []ToolSchema{{Name: "x"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Content != "plain" || len(reply.ToolCalls) != 0 {
		t.Fatalf("expected plain degraded reply, got %+v", reply)
	}
	if primary.toolCalls != 1 || len(primary.invokes) != 1 {
		t.Fatalf("expected one tool attempt then one plain attempt, got %d/%d", primary.toolCalls, len(primary.invokes))
	}
}

func TestInvokeWithToolsWithoutCapableProvider(t *testing.T) {
	fallback := &stubProvider{name: "fallback", reply: &Message{Role: RoleAssistant, Content: "text"}}
	gateway := NewGateway(nil, fallback)

	reply, err := gateway.InvokeWithTools(context.Background(), []Message{UserMessage("hi")}, []ToolSchema{{Name: "x"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Content != "text" {
		t.Fatalf("expected plain fallback reply, got %+v", reply)
	}
	if stats := gateway.Snapshot(); stats.FallbackCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestResetStats(t *testing.T) {
	primary := &stubProvider{name: "primary", reply: &Message{Role: RoleAssistant, Content: "hello"}}
	gateway := NewGateway(primary, nil)
	if _, err := gateway.Invoke(context.Background(), []Message{UserMessage("hi")}, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gateway.ResetStats()
	stats := gateway.Snapshot()
	if stats.PrimaryCount != 0 || stats.FallbackCount != 0 || stats.TotalCount != 0 {
		t.Fatalf("expected zeroed stats, got %+v", stats)
	}
}
