package prompt

import (
	"fmt"
	"sort"
	"strings"

	"Aegis-MCP/internal/llm"
)

// templateBuilders 登记所有具名提示词模板。模板把调用方给出的参数渲染成
// 一段 role/content 消息序列，供管线内部与 API 的 prompts 接口共用。
var templateBuilders = map[string]func(args map[string]string) []llm.Message{
	"classify_intent":   classifyIntentTemplate,
	"search_emails":     searchEmailsTemplate,
	"summarize_thread":  summarizeThreadTemplate,
	"analyze_portfolio": analyzePortfolioTemplate,
	"draft_reply":       draftReplyTemplate,
}

// TemplateNames 返回所有模板名，按字典序排列。
func TemplateNames() []string {
	names := make([]string, 0, len(templateBuilders))
	for name := range templateBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Template 渲染指定模板。未注册的模板名返回错误。
func Template(name string, args map[string]string) ([]llm.Message, error) {
	builder, ok := templateBuilders[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("未注册的提示词模板: %s", name)
	}
	return builder(args), nil
}

// templateArg 读取模板参数，缺失时使用缺省值。
func templateArg(args map[string]string, key, fallback string) string {
	if value, ok := args[key]; ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

// classifyIntentTemplate 是管线解析阶段使用的意图分类模板，要求模型
// 只回答一个 JSON 对象，字段与 Intent 结构保持一致。
func classifyIntentTemplate(args map[string]string) []llm.Message {
	system := `You are the routing stage of a privacy-gated assistant. Classify the
user's request and answer with a single JSON object and nothing else:

{
  "summary": "<one-line restatement of the request>",
  "surfaces": ["READ_GMAIL"],
  "write": false,
  "action": "",
  "details": {}
}

Rules:
- "surfaces" lists every capability the request touches. Valid values:
  READ_GMAIL, WRITE_GMAIL, READ_SOCIAL_X, WRITE_SOCIAL_X,
  READ_SOCIAL_TELEGRAM, WRITE_SOCIAL_TELEGRAM, READ_WALLET,
  SIGN_TRANSACTIONS. Never invent other values.
- "write" is true only when the request asks to send, post, publish, or
  sign something on the user's behalf.
- When "write" is true, set "action" to one of: send_email, post_tweet,
  send_telegram, sign_transaction, swap_tokens, stake_tokens; and fill
  "details" with whatever recipients, subjects, amounts, or tokens the
  request names.
- A question that merely reads data is never a write.`
	return []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(templateArg(args, "query", "")),
	}
}

func searchEmailsTemplate(args map[string]string) []llm.Message {
	return []llm.Message{
		llm.SystemMessage("You help the user search their mailbox. Answer from the provided results only and cite message ids."),
		llm.UserMessage(fmt.Sprintf("Search my emails for: %s\nFocus on: %s",
			templateArg(args, "query", ""),
			templateArg(args, "focus", "the most recent matches"))),
	}
}

func summarizeThreadTemplate(args map[string]string) []llm.Message {
	return []llm.Message{
		llm.SystemMessage("Summarize email threads faithfully. Never quote verification codes, passwords, or account numbers even if present."),
		llm.UserMessage(fmt.Sprintf("Summarize this thread in at most %s sentences:\n\n%s",
			templateArg(args, "sentences", "3"),
			templateArg(args, "thread", ""))),
	}
}

func analyzePortfolioTemplate(args map[string]string) []llm.Message {
	return []llm.Message{
		llm.SystemMessage("You analyze wallet portfolios. Point out concentration risk and notable 24h moves; never advise on timing."),
		llm.UserMessage(fmt.Sprintf("Analyze this portfolio:\n\n%s",
			templateArg(args, "portfolio", ""))),
	}
}

func draftReplyTemplate(args map[string]string) []llm.Message {
	return []llm.Message{
		llm.SystemMessage("Draft replies for the user to review. The draft is a proposal; it is never sent automatically."),
		llm.UserMessage(fmt.Sprintf("Draft a %s reply to this message:\n\n%s",
			templateArg(args, "tone", "friendly"),
			templateArg(args, "message", ""))),
	}
}
