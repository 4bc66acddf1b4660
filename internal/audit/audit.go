// Package audit 定义审计记录的统一模型与落点。策略拦截与工具调用各产生
// 一条结构化记录，落点可以是日志审计通道、关系数据库或两者同时。
// 约定：审计写入失败由落点自行消化，绝不影响业务调用。
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"Aegis-MCP/pkg/logger"
)

// Kind 区分审计记录的业务来源。
type Kind string

const (
	// KindToolCall 记录一次工具调用及其结局。
	KindToolCall Kind = "tool_call"
	// KindPolicyBlock 记录一次敏感内容拦截。
	KindPolicyBlock Kind = "policy_block"
)

// 工具调用结局的取值。
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailed  = "failed"
)

// Entry 是一条结构化审计记录。策略拦截填充 Categories 与 Summary，
// 工具调用填充 ToolName 与 Outcome。
type Entry struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	UserID     string    `json:"user_id"`
	Surface    string    `json:"surface,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Categories []string  `json:"categories,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Recorder 接收审计记录。
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// normalize 补全缺省的记录标识与时间戳。
func normalize(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return entry
}

// LogRecorder 把审计记录写入日志审计通道，是默认的审计落点。
type LogRecorder struct {
	log *slog.Logger
}

// NewLogRecorder 创建日志落点。
func NewLogRecorder() *LogRecorder {
	return &LogRecorder{log: logger.Audit()}
}

// Record 将记录写入审计日志。策略拦截以 Warn 级别输出，便于告警规则订阅。
func (r *LogRecorder) Record(_ context.Context, entry Entry) {
	entry = normalize(entry)
	log := r.log
	if log == nil {
		log = logger.Audit()
	}

	attrs := []any{
		"audit_id", entry.ID,
		"user_id", entry.UserID,
		"surface", entry.Surface,
		"timestamp", entry.Timestamp.Format(time.RFC3339),
	}
	switch entry.Kind {
	case KindPolicyBlock:
		attrs = append(attrs, "categories", entry.Categories, "summary", entry.Summary)
		log.Warn(string(entry.Kind), attrs...)
	default:
		attrs = append(attrs, "tool_name", entry.ToolName, "outcome", entry.Outcome)
		log.Info(string(entry.Kind), attrs...)
	}
}

// MultiRecorder 把同一条记录广播到多个落点。记录在广播前补全标识，
// 保证各落点看到相同的 audit_id。
type MultiRecorder []Recorder

// Record 依次写入所有落点。
func (m MultiRecorder) Record(ctx context.Context, entry Entry) {
	entry = normalize(entry)
	for _, recorder := range m {
		if recorder != nil {
			recorder.Record(ctx, entry)
		}
	}
}

var (
	_ Recorder = (*LogRecorder)(nil)
	_ Recorder = (MultiRecorder)(nil)
)
