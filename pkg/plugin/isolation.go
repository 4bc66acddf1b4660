package plugin

import (
	"errors"
	"fmt"
	"slices"
)

// IsolationStrategy enforces security restrictions for plugins at runtime.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// NoopIsolationStrategy performs only capability and surface validation.
type NoopIsolationStrategy struct{}

// Validate ensures the plugin's requested capabilities and declared surfaces
// are allowed. Denied lists always win over allowed lists.
func (NoopIsolationStrategy) Validate(info Info, policy IsolationPolicy) error {
	for _, cap := range policy.DeniedCapabilities {
		if slices.Contains(info.Capabilities, cap) {
			return fmt.Errorf("capability %s is explicitly denied", cap)
		}
	}
	if len(policy.AllowedCapabilities) > 0 {
		for _, cap := range info.Capabilities {
			if !slices.Contains(policy.AllowedCapabilities, cap) {
				return fmt.Errorf("capability %s not permitted", cap)
			}
		}
	}

	for _, surface := range policy.DeniedSurfaces {
		if slices.Contains(info.Surfaces, surface) {
			return fmt.Errorf("surface %s is explicitly denied", surface)
		}
	}
	if len(policy.AllowedSurfaces) > 0 {
		for _, surface := range info.Surfaces {
			if !slices.Contains(policy.AllowedSurfaces, surface) {
				return fmt.Errorf("surface %s not permitted", surface)
			}
		}
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (NoopIsolationStrategy) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (NoopIsolationStrategy) Cleanup(Info) error { return nil }

// NewIsolationStrategy returns a default isolation strategy if none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return NoopIsolationStrategy{}
	}
	return strategy
}

// MergePolicies combines the default and plugin specific isolation policies.
func MergePolicies(defaults IsolationPolicy, plugin *IsolationPolicy) IsolationPolicy {
	if plugin == nil {
		return defaults
	}
	merged := plugin.Merge(defaults)
	if merged.Empty() {
		return defaults
	}
	return merged
}

// EnsurePolicy returns an error when the isolation policy is empty and the
// plugin requests capabilities or declares capability surfaces. Plugins that
// reach user data never run on an implicit blank policy.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) == 0 && len(info.Surfaces) == 0 {
		return nil
	}
	if policy.Empty() {
		return errors.New("plugins declaring capabilities or surfaces require an isolation policy")
	}
	return nil
}
