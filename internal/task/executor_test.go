package task

import (
	"context"
	"testing"

	"Aegis-MCP/internal/agent"
	"Aegis-MCP/internal/auth"
	"Aegis-MCP/internal/backend/wallet"
	xerrors "Aegis-MCP/internal/errors"
	"Aegis-MCP/internal/llm"
	"Aegis-MCP/internal/policy"
	"Aegis-MCP/internal/tool"
)

func newExecutorPipeline(t *testing.T) *agent.Pipeline {
	t.Helper()
	registry, err := tool.NewRegistry(tool.Definitions{}, wallet.NewOffline(wallet.Config{}))
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	executor := tool.NewExecutor(registry)
	return agent.New(llm.NewGateway(nil, nil), registry, executor, policy.NewEngine())
}

func TestStaticRuntimeResolverIgnoresUnknownSurfaces(t *testing.T) {
	resolver := StaticRuntimeResolver("0xabc")
	rc, err := resolver(context.Background(), "user-9", []string{"READ_WALLET", "LAUNCH_MISSILES", "UNKNOWN"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !rc.Allows(auth.SurfaceReadWallet) {
		t.Fatal("expected READ_WALLET to be granted")
	}
	if len(rc.Permissions) != 1 {
		t.Fatalf("expected exactly one grant, got %v", rc.Permissions)
	}
	if rc.WalletAddress != "0xabc" {
		t.Fatalf("unexpected wallet address: %s", rc.WalletAddress)
	}
}

func TestSubjectRuntimeResolverIntersectsSnapshot(t *testing.T) {
	store, err := auth.NewMemoryStore([]auth.Seed{
		{
			Username:      "carol",
			Password:      "pw",
			Surfaces:      []string{"READ_WALLET", "READ_GMAIL"},
			WalletAddress: "0xcarol",
		},
		{
			Username: "dave",
			Password: "pw",
			Surfaces: []string{"READ_GMAIL"},
			Disabled: true,
		},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	resolver := SubjectRuntimeResolver(store)

	// 快照只含 READ_WALLET：即使账号还持有 READ_GMAIL，也不得被追加。
	rc, err := resolver(context.Background(), "carol", []string{"READ_WALLET"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !rc.Allows(auth.SurfaceReadWallet) || rc.Allows(auth.SurfaceReadGmail) {
		t.Fatalf("expected snapshot-scoped grants, got %v", rc.Permissions)
	}
	if rc.WalletAddress != "0xcarol" {
		t.Fatalf("unexpected wallet address: %s", rc.WalletAddress)
	}

	// 快照含已被收回的授权面：以存储中的最新状态为准。
	rc, err = resolver(context.Background(), "carol", []string{"WRITE_GMAIL"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(rc.Permissions) != 0 {
		t.Fatalf("expected no grants, got %v", rc.Permissions)
	}

	if _, err := resolver(context.Background(), "dave", []string{"READ_GMAIL"}); !xerrors.IsCode(err, xerrors.CodePermissionDenied) {
		t.Fatalf("expected permission denied for disabled account, got %v", err)
	}
	if _, err := resolver(context.Background(), "nobody", nil); !xerrors.IsCode(err, xerrors.CodePermissionDenied) {
		t.Fatalf("expected permission denied for unknown account, got %v", err)
	}
}

func TestPipelineExecutorRunsQueuedTask(t *testing.T) {
	pipeline := newExecutorPipeline(t)
	executor := NewPipelineExecutor(pipeline, nil)

	task := &Task{
		ID:       "task-1",
		UserID:   "user-1",
		Query:    "What's in my wallet?",
		Surfaces: []string{"READ_WALLET"},
	}
	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Response == "" {
		t.Fatal("expected a non-empty response")
	}
	if result.Sources == nil || result.Errors == nil {
		t.Fatalf("expected complete result triple, got %+v", result)
	}
}

func TestPipelineExecutorPropagatesResolverFailure(t *testing.T) {
	pipeline := newExecutorPipeline(t)
	resolver := func(context.Context, string, []string) (*auth.RuntimeContext, error) {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "user directory offline")
	}
	executor := NewPipelineExecutor(pipeline, resolver)

	_, err := executor.Execute(context.Background(), &Task{ID: "task-2", UserID: "user-1", Query: "hi"})
	if !xerrors.IsCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure code, got %v", err)
	}
}
