package policy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"Aegis-MCP/internal/audit"
)

// Category 标识敏感内容规则所属的类别。对外报告一律使用类别，
// 规则名只用于内部诊断，避免把具体检测手段泄露给调用方。
type Category string

const (
	CategoryOTP          Category = "OTP"
	CategoryVerification Category = "VERIFICATION"
	CategoryRecovery     Category = "RECOVERY"
	CategoryPassword     Category = "PASSWORD"
	CategoryBank         Category = "BANK"
	CategoryTax          Category = "TAX"
	CategoryCreditCard   Category = "CREDIT_CARD"
)

// Match 描述一次命中的敏感内容规则。
type Match struct {
	Category Category `json:"pattern_category"`
	Name     string   `json:"pattern_name"`
}

// rule 是一条已编译的检测规则。
type rule struct {
	name     string
	category Category
	re       *regexp.Regexp
}

// compile 统一以不区分大小写、多行模式编译规则。
func compile(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)` + pattern)
}

// sensitiveRules 是全量检测规则表。规则按类别分组，顺序即扫描顺序，
// 表本身只读，可被所有请求共享。
var sensitiveRules = []rule{
	// OTP 验证码：带上下文的 4-8 位数字。
	{"OTP_CODE_STANDALONE", CategoryOTP, compile(`\b\d{4,8}\b\s*(?:is|:|$)`)},
	{"OTP_CODE_WITH_CONTEXT", CategoryOTP, compile(`(?:code|otp|pin|token)[\s:]*\d{4,8}\b`)},
	{"OTP_CODE_YOUR", CategoryOTP, compile(`(?:your|the)\s+(?:code|otp|pin|token)[\s:]*(?:is|:)?\s*\d{4,8}\b`)},
	{"OTP_CODE_SENT", CategoryOTP, compile(`(?:sent|texted|emailed)\s+(?:you|your)?\s*(?:a|an|the)?\s*(?:code|otp|pin)[\s:]*\d{4,8}\b`)},

	// 各类验证提示。
	{"VERIFICATION_CODE", CategoryVerification, compile(`(?:verification|verify|confirm|authentication|auth)[\s\w]*(?:code|token|pin)[\s:]*\d{4,8}\b`)},
	{"VERIFICATION_LINK", CategoryVerification, compile(`(?:verify|confirm|validate)[\s\w]*(?:email|account|identity|phone)`)},
	{"VERIFICATION_INSTRUCTION", CategoryVerification, compile(`(?:enter|use|type)\s+(?:this|the|your)?\s*(?:code|token|pin)[\s:]*\d{4,8}\b`)},

	// 助记词：12/24 个单词的序列。
	{"RECOVERY_PHRASE_NUMBERED", CategoryRecovery, compile(`(?:\d+[\.\)]\s*\w+\s*){11,}`)},
	{"RECOVERY_PHRASE_SEED", CategoryRecovery, compile(`(?:seed|recovery|backup|mnemonic)\s+(?:phrase|words|key)`)},
	{"RECOVERY_PHRASE_WORDS", CategoryRecovery, compile(`\b(?:word\s+\d+|1\.\s*\w+\s+2\.\s*\w+)`)},
	{"RECOVERY_PHRASE_SEQUENCE", CategoryRecovery, compile(`(?:\w+\s+){11,23}\w+\s*$`)},

	// 密码重置相关内容。
	{"PASSWORD_RESET", CategoryPassword, compile(`(?:reset|change|recover|forgot)[\s\w]*password`)},
	{"PASSWORD_RESET_LINK", CategoryPassword, compile(`(?:password|account)\s+(?:reset|recovery)\s+(?:link|url|request)`)},
	{"PASSWORD_RESET_INSTRUCTION", CategoryPassword, compile(`(?:click|tap|follow)[\s\w]*(?:reset|change)[\s\w]*password`)},
	{"PASSWORD_NEW", CategoryPassword, compile(`(?:new|temporary|initial)\s+password[\s:]*\w+`)},

	// 银行账单与金融标识。
	{"BANK_STATEMENT", CategoryBank, compile(`(?:bank|account)\s+statement`)},
	{"ACCOUNT_BALANCE", CategoryBank, compile(`(?:account|current|available)\s+balance[\s:]*\$?\d+`)},
	{"ROUTING_NUMBER", CategoryBank, compile(`routing\s+(?:number|#)[\s:]*\d{9}`)},
	{"ACCOUNT_NUMBER", CategoryBank, compile(`account\s+(?:number|#)[\s:]*\d{4,}`)},
	{"WIRE_TRANSFER", CategoryBank, compile(`(?:wire|ach|direct)\s+(?:transfer|deposit)`)},
	{"STATEMENT_PERIOD", CategoryBank, compile(`statement\s+(?:period|date|for)[\s:]*\d{1,2}[/-]\d{1,2}`)},

	// 税务文件。
	{"TAX_DOCUMENT_W2", CategoryTax, compile(`\bW-?2\b`)},
	{"TAX_DOCUMENT_1099", CategoryTax, compile(`\b1099(?:-[A-Z]+)?\b`)},
	{"TAX_RETURN", CategoryTax, compile(`tax\s+return`)},
	{"TAX_FORM", CategoryTax, compile(`(?:tax|irs)\s+form`)},
	{"TAX_YEAR", CategoryTax, compile(`(?:tax|filing)\s+year[\s:]*\d{4}`)},
	{"SSN", CategoryTax, compile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"EIN", CategoryTax, compile(`(?:ein|employer\s+id)[\s:]*\d{2}-\d{7}`)},

	// 信用卡信息。
	{"CREDIT_CARD", CategoryCreditCard, compile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{"CVV", CategoryCreditCard, compile(`\b(?:cvv|cvc|security\s+code)[\s:]*\d{3,4}\b`)},
	{"CARD_EXPIRY", CategoryCreditCard, compile(`(?:exp|expiry|expires)[\s:]*\d{1,2}[/-]\d{2,4}`)},
}

// Engine 负责敏感内容检测与整体拦截。检测是类别级的：
// 任一文本字段命中即丢弃整条记录，绝不做局部打码。
type Engine struct {
	rules []rule
	audit audit.Recorder
}

// Option 定义引擎的可选配置。
type Option func(*Engine)

// WithRecorder 指定审计落点，默认写入日志审计通道。
func WithRecorder(recorder audit.Recorder) Option {
	return func(e *Engine) {
		if recorder != nil {
			e.audit = recorder
		}
	}
}

// ExtraRule 是部署方在构造引擎时追加的检测规则。
// 只能通过 CompileRule 构造，保证进入引擎的规则一定编译成功。
type ExtraRule struct {
	name     string
	category Category
	re       *regexp.Regexp
}

// CompileRule 编译一条附加检测规则。模式与内置规则一样以不区分
// 大小写、多行模式编译，非法正则在这里报错，不会延迟到扫描路径。
func CompileRule(name string, category Category, pattern string) (ExtraRule, error) {
	if strings.TrimSpace(name) == "" {
		return ExtraRule{}, fmt.Errorf("规则名不能为空")
	}
	if strings.TrimSpace(string(category)) == "" {
		return ExtraRule{}, fmt.Errorf("规则 %s 缺少类别", name)
	}
	re, err := regexp.Compile(`(?im)` + pattern)
	if err != nil {
		return ExtraRule{}, fmt.Errorf("编译规则 %s 失败: %w", name, err)
	}
	return ExtraRule{name: name, category: category, re: re}, nil
}

// WithExtraRules 在内置规则表之后追加自定义规则。追加发生在新的
// 规则表副本上，不影响共享的内置表。
func WithExtraRules(extra ...ExtraRule) Option {
	return func(e *Engine) {
		if len(extra) == 0 {
			return
		}
		rules := make([]rule, 0, len(e.rules)+len(extra))
		rules = append(rules, e.rules...)
		for _, r := range extra {
			if r.re == nil {
				continue
			}
			rules = append(rules, rule{name: r.name, category: r.category, re: r.re})
		}
		e.rules = rules
	}
}

// NewEngine 构造策略引擎。规则表在包加载时编译完成，引擎本身无状态，
// 可被并发使用。
func NewEngine(opts ...Option) *Engine {
	engine := &Engine{
		rules: sensitiveRules,
		audit: audit.NewLogRecorder(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine
}

// Scan 扫描文本并返回是否命中敏感规则及具体命中项。
// 空文本视为无害，直接返回未命中。
func (e *Engine) Scan(text string) (bool, []Match) {
	if text == "" {
		return false, nil
	}
	var matches []Match
	for _, r := range e.rules {
		if r.re.MatchString(text) {
			matches = append(matches, Match{Category: r.category, Name: r.name})
		}
	}
	return len(matches) > 0, matches
}

// FilterList 过滤一组记录：把 textFields 指定的字段拼接后扫描，
// 命中的记录整条丢弃。保证 len(kept)+blocked == len(items)，
// 保留项维持原有顺序，类别集合去重后按字典序返回。
func (e *Engine) FilterList(items []map[string]any, textFields []string) ([]map[string]any, int, []Category) {
	kept := make([]map[string]any, 0, len(items))
	blocked := 0
	categories := make(map[Category]struct{})

	for _, item := range items {
		var parts []string
		for _, field := range textFields {
			if value, ok := item[field].(string); ok && value != "" {
				parts = append(parts, value)
			}
		}
		sensitive, matches := e.Scan(strings.Join(parts, " "))
		if sensitive {
			blocked++
			for _, match := range matches {
				categories[match.Category] = struct{}{}
			}
			continue
		}
		kept = append(kept, item)
	}
	return kept, blocked, sortCategories(categories)
}

// Verdict 描述一次载荷过滤的结果。
type Verdict struct {
	// Data 是过滤后的载荷。列表载荷丢弃命中的记录；其余形态原样返回。
	Data any
	// Blocked 是被丢弃的记录数。
	Blocked int
	// Categories 是命中类别的并集，已排序。
	Categories []Category
	// Rejected 表示整个载荷被整体拦截（单一文本载荷命中时）。
	Rejected bool
}

// FilterData 按载荷形态应用过滤，对应工具结果的 data 字段：
//   - 记录列表：首条记录含 subject/body 视为邮件，含 text 视为消息，
//     命中的记录整条丢弃；
//   - 字符串：命中即整体拦截，调用方应将结果标记为失败；
//   - 其余形态：原样放行。
//
// 发生拦截时写入一条审计记录 {user_id, surface, categories, summary}。
func (e *Engine) FilterData(userID, surface string, data any) Verdict {
	switch payload := data.(type) {
	case string:
		sensitive, matches := e.Scan(payload)
		if !sensitive {
			return Verdict{Data: data}
		}
		categories := collectCategories(matches)
		e.reportBlock(userID, surface, categories, "blocked sensitive content")
		return Verdict{Data: data, Blocked: 1, Categories: categories, Rejected: true}
	case []map[string]any:
		return e.filterRecords(userID, surface, payload)
	case []any:
		records := make([]map[string]any, 0, len(payload))
		for _, element := range payload {
			record, ok := element.(map[string]any)
			if !ok {
				return Verdict{Data: data}
			}
			records = append(records, record)
		}
		return e.filterRecords(userID, surface, records)
	default:
		return Verdict{Data: data}
	}
}

// filterRecords 根据首条记录的字段推断文本字段并过滤。
func (e *Engine) filterRecords(userID, surface string, records []map[string]any) Verdict {
	if len(records) == 0 {
		return Verdict{Data: records}
	}
	fields := detectTextFields(records[0])
	if len(fields) == 0 {
		return Verdict{Data: records}
	}
	kept, blocked, categories := e.FilterList(records, fields)
	if blocked > 0 {
		summary := fmt.Sprintf("blocked %d records", blocked)
		e.reportBlock(userID, surface, categories, summary)
	}
	return Verdict{Data: kept, Blocked: blocked, Categories: categories}
}

// detectTextFields 按原始载荷约定识别可扫描的文本字段。邮件类记录扫描
// 主题、正文与摘要（线程检索结果把正文截断进 snippet，漏掉它等于放行）。
func detectTextFields(record map[string]any) []string {
	if _, ok := record["subject"]; ok {
		return []string{"subject", "body", "snippet"}
	}
	if _, ok := record["body"]; ok {
		return []string{"subject", "body", "snippet"}
	}
	if _, ok := record["text"]; ok {
		return []string{"text"}
	}
	return nil
}

// reportBlock 写入审计记录。审计失败不影响过滤结果。
func (e *Engine) reportBlock(userID, surface string, categories []Category, summary string) {
	recorder := e.audit
	if recorder == nil {
		recorder = audit.NewLogRecorder()
	}
	recorder.Record(context.Background(), audit.Entry{
		Kind:       audit.KindPolicyBlock,
		UserID:     userID,
		Surface:    surface,
		Categories: categoryStrings(categories),
		Summary:    summary,
	})
}

func collectCategories(matches []Match) []Category {
	set := make(map[Category]struct{}, len(matches))
	for _, match := range matches {
		set[match.Category] = struct{}{}
	}
	return sortCategories(set)
}

func sortCategories(set map[Category]struct{}) []Category {
	if len(set) == 0 {
		return nil
	}
	categories := make([]Category, 0, len(set))
	for category := range set {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories
}

// categoryStrings 转换类别列表用于日志输出。
func categoryStrings(categories []Category) []string {
	values := make([]string, 0, len(categories))
	for _, category := range categories {
		values = append(values, string(category))
	}
	return values
}
