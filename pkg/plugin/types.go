package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeBackend plugins contribute tool backends that serve capability surfaces.
	TypeBackend Type = "backend"
	// TypeDetector plugins contribute sensitive-content detection rules.
	TypeDetector Type = "detector"
)

// Capability expresses optional host features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
	// CapabilityCredentials grants access to per-user credential material that
	// the host injects into tool calls. Backends that talk to upstream
	// services on the user's behalf need it; detectors never should.
	CapabilityCredentials Capability = "credentials"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
	// Surfaces lists the capability surfaces a backend plugin's tools may
	// reach (e.g. READ_GMAIL). The host refuses plugins whose declared
	// surfaces fall outside the isolation policy. Detector plugins leave
	// this empty.
	Surfaces []string
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)
