package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"Aegis-MCP/internal/policy"
)

type stubPlugin struct {
	info    Info
	started bool
	stopped bool
	onStart func(ctx *ExecutionContext) error
}

func (s *stubPlugin) Info() Info { return s.info }

func (s *stubPlugin) Configure(map[string]any) error { return nil }

func (s *stubPlugin) Init(*ExecutionContext) error { return nil }

func (s *stubPlugin) Start(ctx *ExecutionContext) error {
	s.started = true
	if s.onStart != nil {
		return s.onStart(ctx)
	}
	return nil
}

func (s *stubPlugin) Stop(*ExecutionContext) error {
	s.stopped = true
	return nil
}

func TestBackendPluginLifecycle(t *testing.T) {
	var registered struct {
		backend string
		tools   []ToolSpec
		invoke  InvokeFunc
	}
	var registrar ToolRegistrar = func(backend string, tools []ToolSpec, invoke InvokeFunc) error {
		registered.backend = backend
		registered.tools = tools
		registered.invoke = invoke
		return nil
	}

	stub := &stubPlugin{
		info: Info{
			ID:           "telegram-backend",
			Category:     TypeBackend,
			Capabilities: []Capability{CapabilityNetwork},
			Surfaces:     []string{"READ_SOCIAL_TELEGRAM"},
		},
		onStart: func(ctx *ExecutionContext) error {
			reg, ok := ctx.Resources[ResourceToolRegistrar].(ToolRegistrar)
			if !ok {
				t.Fatal("tool registrar resource missing")
			}
			return reg("telegram", []ToolSpec{{Name: "fetch_telegram_messages"}},
				func(context.Context, string, map[string]any) (any, error) { return "ok", nil })
		},
	}

	mgr, err := NewManager(ManagerConfig{
		Defaults: IsolationPolicy{
			AllowedCapabilities: []Capability{CapabilityNetwork},
			AllowedSurfaces:     []string{"READ_SOCIAL_TELEGRAM"},
		},
	}, WithResource(ResourceToolRegistrar, registrar))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Register("telegram-backend", stub, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if !stub.started {
		t.Fatal("plugin was not started")
	}
	if registered.backend != "telegram" || len(registered.tools) != 1 || registered.invoke == nil {
		t.Fatalf("tool registration did not reach the host: %+v", registered)
	}
	if state, _ := mgr.State("telegram-backend"); state != StateStarted {
		t.Fatalf("expected started state, got %s", state)
	}

	if err := mgr.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if !stub.stopped {
		t.Fatal("plugin was not stopped")
	}
	if state, _ := mgr.State("telegram-backend"); state != StateStopped {
		t.Fatalf("expected stopped state, got %s", state)
	}

	infos := mgr.Plugins()
	if len(infos) != 1 || infos[0].ID != "telegram-backend" {
		t.Fatalf("unexpected plugin listing: %+v", infos)
	}
}

func TestRegisterEnforcesSurfacePolicy(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{
		Defaults: IsolationPolicy{DeniedSurfaces: []string{"SIGN_TRANSACTIONS"}},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	signer := &stubPlugin{info: Info{Category: TypeBackend, Surfaces: []string{"SIGN_TRANSACTIONS"}}}
	err = mgr.Register("rogue-signer", signer, nil, IsolationPolicy{})
	if err == nil || !strings.Contains(err.Error(), "explicitly denied") {
		t.Fatalf("expected surface denial, got %v", err)
	}
}

func TestRegisterRequiresPolicyForPrivilegedPlugins(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	stub := &stubPlugin{info: Info{Category: TypeBackend, Capabilities: []Capability{CapabilityCredentials}}}
	if err := mgr.Register("grabby", stub, nil, IsolationPolicy{}); err == nil {
		t.Fatal("expected error for privileged plugin without isolation policy")
	}

	// 无能力、无授权面声明的插件可以用空策略注册。
	plain := &stubPlugin{info: Info{Category: TypeDetector}}
	if err := mgr.Register("plain", plain, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Register("dup", &stubPlugin{info: Info{Category: TypeDetector}}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := mgr.Register("dup", &stubPlugin{info: Info{Category: TypeDetector}}, nil, IsolationPolicy{}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestDetectorPluginFeedsPolicyEngine(t *testing.T) {
	var extra []policy.ExtraRule
	var registrar DetectorRegistrar = func(rules []DetectorRule) error {
		for _, r := range rules {
			compiled, err := policy.CompileRule(r.Name, policy.Category(r.Category), r.Pattern)
			if err != nil {
				return err
			}
			extra = append(extra, compiled)
		}
		return nil
	}

	detector := &stubPlugin{
		info: Info{ID: "wallet-secrets", Category: TypeDetector},
		onStart: func(ctx *ExecutionContext) error {
			reg, ok := ctx.Resources[ResourceDetectorRegistrar].(DetectorRegistrar)
			if !ok {
				t.Fatal("detector registrar resource missing")
			}
			return reg([]DetectorRule{
				{Name: "PRIVATE_KEY_HEX", Category: "WALLET_SECRET", Pattern: `\b0x[0-9a-f]{64}\b`},
			})
		},
	}

	mgr, err := NewManager(ManagerConfig{}, WithResource(ResourceDetectorRegistrar, registrar))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Register("wallet-secrets", detector, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}

	engine := policy.NewEngine(policy.WithExtraRules(extra...))
	leaked := "key 0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	sensitive, matches := engine.Scan(leaked)
	if !sensitive {
		t.Fatal("expected plugin-contributed rule to flag the key")
	}
	if matches[0].Category != policy.Category("WALLET_SECRET") {
		t.Fatalf("unexpected category: %v", matches)
	}
}

func TestLoadManagerConfigParsesSurfacePolicies(t *testing.T) {
	raw := `
pluginDir: /opt/aegis/plugins
defaults:
  deniedSurfaces: [SIGN_TRANSACTIONS]
plugins:
  telegram-backend:
    enabled: false
    path: telegram.so
    policy:
      allowedCapabilities: [network]
      allowedSurfaces: [READ_SOCIAL_TELEGRAM]
`
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadManagerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Defaults.DeniedSurfaces) != 1 || cfg.Defaults.DeniedSurfaces[0] != "SIGN_TRANSACTIONS" {
		t.Fatalf("unexpected defaults: %+v", cfg.Defaults)
	}
	entry := cfg.Plugins["telegram-backend"]
	if entry.Policy == nil || entry.Policy.AllowedSurfaces[0] != "READ_SOCIAL_TELEGRAM" {
		t.Fatalf("unexpected plugin policy: %+v", entry.Policy)
	}

	// 已启用的插件如果指向不存在的共享对象，构造管理器时立即报错。
	entry.Enabled = true
	cfg.Plugins["telegram-backend"] = entry
	if _, err := NewManager(cfg); err == nil {
		t.Fatal("expected error for missing plugin binary")
	}
}
