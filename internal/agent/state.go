package agent

import (
	"Aegis-MCP/internal/auth"
	"Aegis-MCP/internal/tool"
)

// Stage 标识管线当前所处的阶段，用于日志与状态观测。
type Stage string

const (
	StageParseQuery       Stage = "parse_query"
	StageCheckPermissions Stage = "check_permissions"
	StageSelectTools      Stage = "select_tools"
	StageExecuteTools     Stage = "execute_tools"
	StageFilterResults    Stage = "filter_results"
	StageAggregateResults Stage = "aggregate_results"
	StageGenerateResponse Stage = "generate_response"
	StageErrorResponse    Stage = "error_response"
	StageDone             Stage = "done"
)

// Intent 是查询解析阶段的产物。Write 为真表示请求希望对外发出动作，
// 此时 Action/Details 描述待确认的具体操作。
type Intent struct {
	Summary  string         `json:"summary,omitempty"`
	Surfaces []auth.Surface `json:"surfaces"`
	Write    bool           `json:"write"`
	Action   string         `json:"action,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Selection 是一项被选中待执行的工具及其调用参数。
type Selection struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FilteredResult 是经过策略过滤的工具结果。BlockedCount 记录被整条
// 丢弃的记录数，与保留记录数相加等于原始记录数。
type FilteredResult struct {
	tool.Result
	BlockedCount int `json:"blocked_count,omitempty"`
}

// Source 是回答引用的一条数据来源，URI 采用 surface://topic 约定。
type Source struct {
	URI     string       `json:"uri"`
	Tool    string       `json:"tool,omitempty"`
	Surface auth.Surface `json:"surface,omitempty"`
	Title   string       `json:"title,omitempty"`
}

// State 承载一次查询在管线各阶段之间流转的全部工作状态。
type State struct {
	Query            string               `json:"query"`
	Context          *auth.RuntimeContext `json:"-"`
	Stage            Stage                `json:"stage"`
	Intent           Intent               `json:"parsed_intent"`
	RequiredSurfaces []auth.Surface       `json:"required_surfaces"`
	SelectedTools    []Selection          `json:"selected_tools"`
	RawResults       []tool.Result        `json:"raw_results"`
	FilteredResults  []FilteredResult     `json:"filtered_results"`
	Sources          []Source             `json:"aggregated_sources"`
	Response         string               `json:"response,omitempty"`
	Errors           []string             `json:"errors"`

	// contextBlocks 缓存供合成阶段使用的上下文片段，不属于对外契约。
	contextBlocks []string
}

// Outcome 是管线的终态输出。三个字段永远全部出现：哪怕整条管线失败，
// Response 也会携带一段致歉说明，Sources 与 Errors 保持为空列表而非 null。
type Outcome struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
	Errors   []string `json:"errors"`
}
