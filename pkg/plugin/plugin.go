package plugin

import "context"

// Plugin defines the lifecycle hooks that each plugin implementation must satisfy.
type Plugin interface {
	// Info returns the static metadata for the plugin.
	Info() Info
	// Configure allows the plugin to inspect its configuration block prior to initialisation.
	// Implementations may mutate the configuration map to inject defaults.
	Configure(cfg map[string]any) error
	// Init prepares the plugin for use.
	Init(ctx *ExecutionContext) error
	// Start activates the plugin. Backend plugins register their tools and
	// detector plugins submit their rules from here, via the registrar
	// resources supplied by the host.
	Start(ctx *ExecutionContext) error
	// Stop gracefully halts the plugin and releases any resources.
	Stop(ctx *ExecutionContext) error
}

// ExecutionContext is passed to plugins for every lifecycle stage.
type ExecutionContext struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// Config is the plugin specific configuration block merged with manager overrides.
	Config map[string]any
	// Resources exposes shared services supplied by the host application,
	// keyed by the Resource* constants below.
	Resources map[string]any
}

// Clone returns a shallow copy of the execution context so plugins can safely mutate maps.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Config != nil {
		dup.Config = make(map[string]any, len(c.Config))
		for k, v := range c.Config {
			dup.Config[k] = v
		}
	}
	if c.Resources != nil {
		dup.Resources = make(map[string]any, len(c.Resources))
		for k, v := range c.Resources {
			dup.Resources[k] = v
		}
	}
	return &dup
}

// Well-known resource keys a host exposes to plugins.
const (
	// ResourceToolRegistrar holds a ToolRegistrar for backend plugins.
	ResourceToolRegistrar = "tools:register"
	// ResourceDetectorRegistrar holds a DetectorRegistrar for detector plugins.
	ResourceDetectorRegistrar = "detectors:register"
)

// ToolSpec describes one tool a backend plugin offers. The host classifies
// the tool onto a capability surface by its name, exactly as it does for
// built-in backends, so names must carry their service identity
// (e.g. fetch_telegram_messages).
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// InvokeFunc executes one tool call on behalf of a backend plugin.
type InvokeFunc func(ctx context.Context, toolName string, args map[string]any) (any, error)

// ToolRegistrar registers a backend plugin's tools with the host. The host
// wraps the registration in its regular authorization, injection and audit
// chain; plugins only supply business behaviour.
type ToolRegistrar func(backend string, tools []ToolSpec, invoke InvokeFunc) error

// DetectorRule is one detection rule contributed by a detector plugin.
// Pattern is a regular expression compiled by the host in case-insensitive
// multi-line mode; rules that fail to compile are rejected at registration.
type DetectorRule struct {
	Name     string
	Category string
	Pattern  string
}

// DetectorRegistrar registers detection rules with the host policy engine.
type DetectorRegistrar func(rules []DetectorRule) error

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy sets a custom isolation policy enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithResource registers a shared resource that will be exposed to all plugins.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = make(map[string]any)
		}
		m.resources[key] = value
	}
}
