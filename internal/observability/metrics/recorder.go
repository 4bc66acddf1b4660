package metrics

import (
	"context"

	"Aegis-MCP/internal/audit"
)

// Recorder mirrors audit entries into the Prometheus counters so policy
// blocks and tool outcomes are measurable without a second instrumentation
// path through the business packages. Join it with the primary sink via
// audit.MultiRecorder.
type Recorder struct{}

// Record translates one audit entry into counter increments.
func (Recorder) Record(_ context.Context, entry audit.Entry) {
	switch entry.Kind {
	case audit.KindPolicyBlock:
		CountPolicyBlock(entry.Surface, entry.Categories)
	case audit.KindToolCall:
		CountToolCall(entry.ToolName, entry.Surface, entry.Outcome)
	}
}

var _ audit.Recorder = Recorder{}
