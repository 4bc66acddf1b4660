package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"Aegis-MCP/internal/auth"
	xerrors "Aegis-MCP/internal/errors"
	"Aegis-MCP/internal/knowledge"
	"Aegis-MCP/internal/llm"
	"Aegis-MCP/internal/policy"
	"Aegis-MCP/internal/prompt"
	"Aegis-MCP/internal/tool"
	"Aegis-MCP/internal/websearch"
	"Aegis-MCP/pkg/logger"
)

const (
	// defaultMaxParallel 是工具扇出阶段的并发上限。
	defaultMaxParallel = 4
	// parseMaxTokens 限制意图解析与工具选择的生成长度。
	parseMaxTokens = 400
	// synthesisMaxTokens 限制最终回答的生成长度。
	synthesisMaxTokens = 900
	// maxContextBlockBytes 限制单个工具结果进入提示词的体积。
	maxContextBlockBytes = 4000

	apologyResponse = "I'm having trouble completing this request. Please try again in a moment."
)

// Pipeline 协调解析、鉴权、工具执行、策略过滤与回答合成，是系统的业务核心。
type Pipeline struct {
	gateway       *llm.Gateway
	registry      *tool.Registry
	executor      *tool.Executor
	engine        *policy.Engine
	docs          knowledge.Provider
	search        *websearch.Client
	instructions  string
	maxParallel   int
	stageObserver func(stage Stage, elapsed time.Duration)
	log           *slog.Logger
}

// Option 定义可选的管线配置。
type Option func(*Pipeline)

// WithKnowledgeProvider 配置文档库，用于在回答中补充 [docs:*] 来源。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(p *Pipeline) {
		p.docs = provider
	}
}

// WithWebSearch 配置网页搜索客户端，在文档库未命中时补充 [web:*] 来源。
func WithWebSearch(client *websearch.Client) Option {
	return func(p *Pipeline) {
		p.search = client
	}
}

// WithMaxParallel 设置工具扇出的并发上限。
func WithMaxParallel(limit int) Option {
	return func(p *Pipeline) {
		p.maxParallel = limit
	}
}

// WithInstructions 追加部署方自定义的系统提示词段落。
func WithInstructions(text string) Option {
	return func(p *Pipeline) {
		p.instructions = text
	}
}

// WithStageObserver 注册阶段耗时观察者，每个阶段结束时回调一次。
// 观察者在管线 goroutine 内同步执行，不应做阻塞操作。
func WithStageObserver(observer func(stage Stage, elapsed time.Duration)) Option {
	return func(p *Pipeline) {
		p.stageObserver = observer
	}
}

// New 创建管线。gateway 可以不可用（未配置任何提供方），此时解析与
// 合成阶段自动退回确定性的保底路径。
func New(gateway *llm.Gateway, registry *tool.Registry, executor *tool.Executor, engine *policy.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		gateway:     gateway,
		registry:    registry,
		executor:    executor,
		engine:      engine,
		maxParallel: defaultMaxParallel,
		log:         logger.Named("agent.pipeline"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.maxParallel <= 0 {
		p.maxParallel = defaultMaxParallel
	}
	return p
}

// Run 执行完整管线。无论中途发生什么（包括 panic），返回值都是完整的
// {response, sources, errors} 三元组。
func (p *Pipeline) Run(ctx context.Context, query string, rc *auth.RuntimeContext) (outcome Outcome) {
	state := &State{
		Query:   strings.TrimSpace(query),
		Context: rc,
		Stage:   StageParseQuery,
		Errors:  []string{},
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			p.log.Error("管线发生未捕获异常", slog.Any("panic", recovered))
			state.Errors = append(state.Errors, xerrors.New(xerrors.CodePipelineFailure,
				fmt.Sprintf("pipeline panic: %v", recovered)).Error())
			state.Response = apologyResponse
			outcome = p.finish(state)
		}
	}()

	if state.Query == "" {
		state.Errors = append(state.Errors, xerrors.New(xerrors.CodeInvalidArgument, "查询内容不能为空").Error())
		return p.errorResponse(state, "Please tell me what you'd like to do.")
	}

	p.parseQuery(ctx, state)

	state.Stage = StageCheckPermissions
	if missing := p.missingSurfaces(state); len(missing) > 0 {
		for _, surface := range missing {
			state.Errors = append(state.Errors, xerrors.New(xerrors.CodePermissionDenied,
				fmt.Sprintf("缺少能力面权限: %s", surface),
				xerrors.WithMetadata("surface", surface.String())).Error())
		}
		p.log.Info("权限检查未通过",
			slog.String("user_id", userIDOf(state.Context)),
			slog.Int("missing", len(missing)),
		)
		return p.errorResponse(state, permissionDeniedResponse(missing))
	}

	p.selectTools(ctx, state)
	p.executeTools(ctx, state)
	p.filterResults(state)
	p.aggregateResults(ctx, state)
	p.generateResponse(ctx, state)
	return p.finish(state)
}

// observeStage 上报单个阶段的耗时，未注册观察者时为空操作。
// 配合 defer p.observeStage(stage, time.Now()) 使用。
func (p *Pipeline) observeStage(stage Stage, started time.Time) {
	if p.stageObserver != nil {
		p.stageObserver(stage, time.Since(started))
	}
}

// parseQuery 解析查询意图。优先让模型分类，失败或模型缺位时退回
// 关键词启发式，保证该阶段永远产出一个意图。
func (p *Pipeline) parseQuery(ctx context.Context, state *State) {
	state.Stage = StageParseQuery
	defer p.observeStage(StageParseQuery, time.Now())

	if p.gateway.Available() {
		intent, err := p.classifyWithModel(ctx, state.Query)
		if err == nil {
			state.Intent = intent
			state.RequiredSurfaces = intent.Surfaces
			p.log.Debug("意图解析完成",
				slog.String("mode", "llm"),
				slog.Int("surfaces", len(intent.Surfaces)),
				slog.Bool("write", intent.Write),
			)
			return
		}
		p.log.Warn("大模型意图解析失败，退回关键词启发式", slog.String("error", err.Error()))
	}

	state.Intent = classifyHeuristically(state.Query)
	state.RequiredSurfaces = state.Intent.Surfaces
	p.log.Debug("意图解析完成",
		slog.String("mode", "heuristic"),
		slog.Int("surfaces", len(state.Intent.Surfaces)),
		slog.Bool("write", state.Intent.Write),
	)
}

func (p *Pipeline) classifyWithModel(ctx context.Context, query string) (Intent, error) {
	messages, err := prompt.Template("classify_intent", map[string]string{"query": query})
	if err != nil {
		return Intent{}, err
	}
	reply, err := p.gateway.Invoke(ctx, messages, llm.Options{MaxTokens: parseMaxTokens})
	if err != nil {
		return Intent{}, err
	}
	return parseIntentJSON(query, reply.Content)
}

// parseIntentJSON 从模型回复中截取 JSON 对象并还原成意图。模型给出的
// 未知能力面名直接忽略；全部无法识别时视为解析失败，交给启发式兜底。
func parseIntentJSON(query, content string) (Intent, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Intent{}, fmt.Errorf("模型未返回 JSON 意图")
	}

	var decoded struct {
		Summary  string         `json:"summary"`
		Surfaces []string       `json:"surfaces"`
		Write    bool           `json:"write"`
		Action   string         `json:"action"`
		Details  map[string]any `json:"details"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &decoded); err != nil {
		return Intent{}, fmt.Errorf("解析意图 JSON 失败: %w", err)
	}

	intent := Intent{
		Summary: strings.TrimSpace(decoded.Summary),
		Write:   decoded.Write,
		Action:  strings.TrimSpace(decoded.Action),
		Details: decoded.Details,
	}
	for _, name := range decoded.Surfaces {
		surface, err := auth.ParseSurface(name)
		if err != nil {
			continue
		}
		intent.Surfaces = append(intent.Surfaces, surface)
	}
	if len(decoded.Surfaces) > 0 && len(intent.Surfaces) == 0 {
		return Intent{}, fmt.Errorf("模型返回的能力面均无法识别")
	}
	if intent.Summary == "" {
		intent.Summary = query
	}
	if intent.Write && intent.Action == "" {
		for _, surface := range intent.Surfaces {
			if surface.IsWrite() {
				intent.Action = confirmationAction(surface, tokenize(query))
				break
			}
		}
	}
	return intent, nil
}

// missingSurfaces 返回本次请求要求但未被授予的能力面。
func (p *Pipeline) missingSurfaces(state *State) []auth.Surface {
	var missing []auth.Surface
	for _, surface := range state.RequiredSurfaces {
		if !state.Context.Allows(surface) {
			missing = append(missing, surface)
		}
	}
	return missing
}

// selectTools 为所有读能力面挑选待执行的工具。写能力面从不进入派发
// 集合：写动作只会在合成阶段变成确认文案。
func (p *Pipeline) selectTools(ctx context.Context, state *State) {
	state.Stage = StageSelectTools
	defer p.observeStage(StageSelectTools, time.Now())

	readSurfaces := make([]auth.Surface, 0, len(state.RequiredSurfaces))
	for _, surface := range state.RequiredSurfaces {
		if !surface.IsWrite() {
			readSurfaces = append(readSurfaces, surface)
		}
	}
	if len(readSurfaces) == 0 {
		return
	}

	if p.gateway.Available() {
		if selected := p.selectWithModel(ctx, state.Query, readSurfaces); len(selected) > 0 {
			state.SelectedTools = selected
			return
		}
	}
	state.SelectedTools = p.defaultSelections(state.Query, readSurfaces)
}

// selectWithModel 通过函数调用让模型挑选工具与参数，只接受授权能力面
// 范围内的选择。
func (p *Pipeline) selectWithModel(ctx context.Context, query string, surfaces []auth.Surface) []Selection {
	allowed := make(map[string]struct{})
	var schemas []llm.ToolSchema
	for _, surface := range surfaces {
		for _, descriptor := range p.registry.BySurface(surface) {
			if _, ok := allowed[descriptor.Name]; ok {
				continue
			}
			allowed[descriptor.Name] = struct{}{}
			schemas = append(schemas, llm.ToolSchema{
				Name:        descriptor.Name,
				Description: descriptor.Description,
				Parameters:  descriptor.InputSchema,
			})
		}
	}
	if len(schemas) == 0 {
		return nil
	}

	messages := []llm.Message{
		llm.SystemMessage("Select the tools needed to answer the user's request. Call only the listed tools and prefer the fewest calls that cover the question."),
		llm.UserMessage(query),
	}
	reply, err := p.gateway.InvokeWithTools(ctx, messages, schemas, llm.Options{MaxTokens: parseMaxTokens})
	if err != nil {
		p.log.Warn("工具选择调用失败，使用缺省工具", slog.String("error", err.Error()))
		return nil
	}

	var selected []Selection
	for _, call := range reply.ToolCalls {
		name := strings.ToLower(strings.TrimSpace(call.Name))
		if _, ok := allowed[name]; !ok {
			p.log.Warn("忽略授权范围之外的工具选择", slog.String("tool", call.Name))
			continue
		}
		selected = append(selected, Selection{Name: name, Args: call.Arguments})
	}
	return selected
}

// defaultSelections 在模型缺位时为每个读能力面挑选默认工具，钱包面再
// 按查询中的名词细分到更具体的工具。
func (p *Pipeline) defaultSelections(query string, surfaces []auth.Surface) []Selection {
	tokens := tokenize(query)
	var selected []Selection
	add := func(name string, args map[string]any) {
		if _, _, ok := p.registry.Lookup(name); ok {
			selected = append(selected, Selection{Name: name, Args: args})
		}
	}

	for _, surface := range surfaces {
		switch surface {
		case auth.SurfaceReadGmail:
			add("search_email_threads", map[string]any{"query": searchTerms(query)})
		case auth.SurfaceReadSocialX:
			add("get_x_dms", nil)
			add("get_x_mentions", nil)
		case auth.SurfaceReadSocialTelegram:
			add("get_telegram_messages", nil)
		case auth.SurfaceReadWallet:
			switch {
			case matchesAny(tokens, []string{"history", "transaction"}):
				add("get_transaction_history", nil)
			case matchesAny(tokens, []string{"gas", "fee"}):
				add("get_priority_fee_estimate", nil)
			case matchesAny(tokens, []string{"price"}):
				if symbol := findSymbol(query); symbol != "" {
					add("get_token_price", map[string]any{"token_contract": symbol})
				} else {
					add("get_wallet_portfolio", nil)
				}
			case matchesAny(tokens, []string{"lending", "rate"}):
				add("get_lending_rates", nil)
			default:
				add("get_wallet_portfolio", nil)
			}
		}
	}
	return selected
}

// executeTools 并发派发选中的工具并等待全部结果。单个工具失败只产生
// 一条错误记录，不影响其余工具的结果。
func (p *Pipeline) executeTools(ctx context.Context, state *State) {
	state.Stage = StageExecuteTools
	defer p.observeStage(StageExecuteTools, time.Now())
	if len(state.SelectedTools) == 0 {
		return
	}

	results := make([]tool.Result, len(state.SelectedTools))
	semaphore := make(chan struct{}, p.maxParallel)
	var wg sync.WaitGroup
	for i, selection := range state.SelectedTools {
		wg.Add(1)
		go func(slot int, selection Selection) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			results[slot] = p.executor.Execute(ctx, selection.Name, selection.Args, state.Context)
		}(i, selection)
	}
	wg.Wait()

	state.RawResults = results
	for _, result := range results {
		if result.Err != nil {
			state.Errors = append(state.Errors, fmt.Sprintf("%s: %v", result.ToolName, result.Err))
		}
	}
}

// filterResults 对每个成功结果的载荷做策略过滤：列表载荷丢弃命中的
// 记录，单一文本载荷命中时整个结果翻转为失败。
func (p *Pipeline) filterResults(state *State) {
	state.Stage = StageFilterResults
	defer p.observeStage(StageFilterResults, time.Now())
	if len(state.RawResults) == 0 {
		return
	}
	userID := userIDOf(state.Context)

	filtered := make([]FilteredResult, 0, len(state.RawResults))
	for _, result := range state.RawResults {
		if !result.Success {
			filtered = append(filtered, FilteredResult{Result: result})
			continue
		}
		verdict := p.engine.FilterData(userID, result.Surface.String(), normalizeData(result.Data))
		entry := FilteredResult{Result: result, BlockedCount: verdict.Blocked}
		entry.Data = verdict.Data
		entry.BlockedPatterns = categoryNames(verdict.Categories)
		if verdict.Rejected {
			entry.Success = false
			entry.Data = nil
			entry.Error = "result blocked by policy"
		}
		filtered = append(filtered, entry)
	}
	state.FilteredResults = filtered
}

// aggregateResults 汇总引用来源与合成上下文：工具结果映射为
// surface://topic URI，文档库命中追加 docs 来源，文档未命中且配置了
// 搜索客户端时再出网检索。
func (p *Pipeline) aggregateResults(ctx context.Context, state *State) {
	state.Stage = StageAggregateResults
	defer p.observeStage(StageAggregateResults, time.Now())
	sources := make([]Source, 0, len(state.FilteredResults)+2)

	for _, result := range state.FilteredResults {
		if !result.Success || emptyPayload(result.Data) {
			continue
		}
		sources = append(sources, Source{
			URI:     resourceURIForTool(result.ToolName),
			Tool:    result.ToolName,
			Surface: result.Surface,
		})
		state.contextBlocks = append(state.contextBlocks,
			fmt.Sprintf("## %s (%s)\n%s", result.ToolName, result.Surface, compactJSON(result.Data)))
	}

	var docs []knowledge.Document
	if p.docs != nil {
		docs = p.docs.Search(state.Query, surfaceStrings(state.RequiredSurfaces))
		for _, doc := range docs {
			sources = append(sources, Source{URI: doc.Citation(), Title: doc.Title})
			state.contextBlocks = append(state.contextBlocks,
				fmt.Sprintf("## %s\n%s", doc.Citation(), doc.Content))
		}
	}
	if p.search != nil && len(docs) == 0 {
		results, err := p.search.Search(ctx, state.Query)
		if err != nil {
			p.log.Warn("网页搜索失败", slog.String("error", err.Error()))
		}
		for _, result := range results {
			sources = append(sources, Source{URI: result.Citation(), Title: result.Title})
			state.contextBlocks = append(state.contextBlocks,
				fmt.Sprintf("## %s\n%s", result.Citation(), result.Snippet))
		}
	}

	state.Sources = sources
}

// generateResponse 生成最终回答。写意图渲染成确认文案；读意图优先走
// 模型合成，模型缺位或失败时退回拼接式回答。
func (p *Pipeline) generateResponse(ctx context.Context, state *State) {
	state.Stage = StageGenerateResponse
	defer p.observeStage(StageGenerateResponse, time.Now())

	if state.Intent.Write {
		state.Response = p.confirmationResponse(state)
		return
	}

	if p.gateway.Available() {
		response, err := p.synthesize(ctx, state)
		if err == nil {
			state.Response = response
			return
		}
		p.log.Warn("回答合成失败，退回拼接模式", slog.String("error", err.Error()))
		state.Errors = append(state.Errors, err.Error())
	}
	state.Response = concatResponse(state)
}

// confirmationResponse 把写意图渲染成确认文案。任何写操作都不会被
// 执行，文案本身就是管线对写请求的全部输出。
func (p *Pipeline) confirmationResponse(state *State) string {
	action := state.Intent.Action
	if action == "" {
		for _, surface := range state.RequiredSurfaces {
			if surface.IsWrite() {
				action = confirmationAction(surface, tokenize(state.Query))
				break
			}
		}
	}
	details := make(map[string]any, len(state.Intent.Details)+1)
	for key, value := range state.Intent.Details {
		details[key] = value
	}
	if _, ok := details["request"]; !ok {
		details["request"] = state.Query
	}
	return prompt.Confirmation(action, details)
}

func (p *Pipeline) synthesize(ctx context.Context, state *State) (string, error) {
	system := prompt.System(surfaceStrings(state.Context.GrantedSurfaces()), p.instructions)

	var builder strings.Builder
	if len(state.contextBlocks) > 0 {
		builder.WriteString("Context gathered for this request:\n\n")
		for _, block := range state.contextBlocks {
			builder.WriteString(block)
			builder.WriteString("\n\n")
		}
	} else {
		builder.WriteString("No tool context was available for this request.\n\n")
	}
	builder.WriteString("User question: ")
	builder.WriteString(state.Query)

	reply, err := p.gateway.Invoke(ctx, []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(builder.String()),
	}, llm.Options{MaxTokens: synthesisMaxTokens})
	if err != nil {
		return "", err
	}
	response := strings.TrimSpace(reply.Content)
	if response == "" {
		return "", fmt.Errorf("模型返回了空回答")
	}
	return response, nil
}

// errorResponse 以给定文案短路收尾，进入 error_response 分支。
func (p *Pipeline) errorResponse(state *State, response string) Outcome {
	state.Stage = StageErrorResponse
	state.Response = response
	return p.finish(state)
}

// finish 把状态收敛成终态三元组。Sources 与 Errors 永远非 nil，
// Response 永远非空。
func (p *Pipeline) finish(state *State) Outcome {
	state.Stage = StageDone

	response := strings.TrimSpace(state.Response)
	if response == "" {
		response = apologyResponse
	}
	sources := state.Sources
	if sources == nil {
		sources = []Source{}
	}
	errorList := state.Errors
	if errorList == nil {
		errorList = []string{}
	}

	p.log.Info("管线执行完成",
		slog.String("user_id", userIDOf(state.Context)),
		slog.Int("sources", len(sources)),
		slog.Int("errors", len(errorList)),
		slog.Bool("write_intent", state.Intent.Write),
	)
	return Outcome{Response: response, Sources: sources, Errors: errorList}
}

// concatResponse 是无模型可用时的拼接式回答：逐工具一句概括，追加
// 过滤提示，保证回答永远不为空。
func concatResponse(state *State) string {
	var lines []string
	blocked := 0
	for _, result := range state.FilteredResults {
		blocked += result.BlockedCount
		if !result.Success {
			if result.Error != "" {
				lines = append(lines, fmt.Sprintf("- %s did not complete: %s", result.ToolName, result.Error))
			}
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", result.ToolName, summarizePayload(result.Data)))
	}

	var builder strings.Builder
	switch {
	case len(lines) > 0:
		builder.WriteString("Here's what I found:\n")
		builder.WriteString(strings.Join(lines, "\n"))
	case len(state.Sources) > 0:
		fmt.Fprintf(&builder, "I found %d reference source(s) for this request; see the sources list.", len(state.Sources))
	default:
		builder.WriteString("I couldn't gather any data for this request. Please try again or rephrase the question.")
	}
	if blocked > 0 {
		fmt.Fprintf(&builder, "\n\nSome results (%d) were filtered out to protect sensitive information.", blocked)
	}
	return builder.String()
}

func permissionDeniedResponse(missing []auth.Surface) string {
	names := make([]string, 0, len(missing))
	for _, surface := range missing {
		names = append(names, surface.String())
	}
	return fmt.Sprintf("I don't have permission to access %s. You can grant access in Settings and ask again.",
		strings.Join(names, ", "))
}

// normalizeData 把后端返回的类型化结构降成 JSON 通用形态，策略引擎
// 只认识 map、列表与字符串。无法序列化的载荷原样返回，按未知形态放行。
func normalizeData(data any) any {
	switch data.(type) {
	case nil, string, []map[string]any, []any, map[string]any:
		return data
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return data
	}
	return generic
}

func categoryNames(categories []policy.Category) []string {
	if len(categories) == 0 {
		return nil
	}
	names := make([]string, 0, len(categories))
	for _, category := range categories {
		names = append(names, string(category))
	}
	return names
}

func surfaceStrings(surfaces []auth.Surface) []string {
	names := make([]string, 0, len(surfaces))
	for _, surface := range surfaces {
		names = append(names, surface.String())
	}
	return names
}

func userIDOf(rc *auth.RuntimeContext) string {
	if rc == nil {
		return ""
	}
	return rc.UserID
}

func emptyPayload(data any) bool {
	switch payload := data.(type) {
	case nil:
		return true
	case []any:
		return len(payload) == 0
	case []map[string]any:
		return len(payload) == 0
	case string:
		return strings.TrimSpace(payload) == ""
	default:
		return false
	}
}

func summarizePayload(data any) string {
	switch payload := data.(type) {
	case string:
		return truncateText(payload, 200)
	case []any:
		return fmt.Sprintf("%d record(s)", len(payload))
	case []map[string]any:
		return fmt.Sprintf("%d record(s)", len(payload))
	case map[string]any:
		return fmt.Sprintf("%d field(s)", len(payload))
	default:
		return truncateText(compactJSON(data), 200)
	}
}

func compactJSON(data any) string {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return truncateText(string(raw), maxContextBlockBytes)
}

func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "...(truncated)"
}

// searchStopwords 是检索参数里应剔除的提问用语与渠道名词。
var searchStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "any": {}, "about": {}, "are": {},
	"can": {}, "could": {}, "did": {}, "do": {}, "find": {}, "for": {},
	"from": {}, "get": {}, "have": {}, "how": {}, "i": {}, "in": {},
	"is": {}, "it": {}, "latest": {}, "me": {}, "my": {}, "new": {},
	"of": {}, "on": {}, "or": {}, "please": {}, "recent": {}, "s": {},
	"show": {}, "tell": {}, "the": {}, "there": {}, "this": {}, "to": {},
	"was": {}, "what": {}, "when": {}, "which": {}, "with": {}, "you": {},
	"your": {},
	"email": {}, "emails": {}, "gmail": {}, "inbox": {}, "mail": {},
	"mailbox": {}, "message": {}, "messages": {}, "send": {},
}

// searchTerms 从查询中剔除提问用语，留下适合全文检索的关键词。
func searchTerms(query string) string {
	var terms []string
	seen := make(map[string]struct{})
	for _, field := range fieldsOf(query) {
		if _, ok := searchStopwords[field]; ok {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		terms = append(terms, field)
	}
	return strings.Join(terms, " ")
}

// findSymbol 从原始查询里找一个形如代币符号的全大写词元。
func findSymbol(query string) string {
	for _, field := range strings.Fields(query) {
		trimmed := strings.Trim(field, ".,!?:;()\"'")
		if len(trimmed) < 2 || len(trimmed) > 6 {
			continue
		}
		if trimmed == strings.ToUpper(trimmed) && trimmed != strings.ToLower(trimmed) {
			return trimmed
		}
	}
	return ""
}
