// Package gmail 实现邮件能力面后端：线程检索、正文读取与发送。后端以
// 内置的样例收件箱工作，发送动作只记录到发件暂存区并返回结果回执，
// 真正的外发由确认链路之外的系统完成。
package gmail

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"Aegis-MCP/internal/backend"
	"Aegis-MCP/internal/tool"
)

const defaultSearchLimit = 10

// Message 是收件箱中的一封邮件。
type Message struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	Date     string   `json:"date"`
	Labels   []string `json:"labels,omitempty"`
}

// Backend 是邮件能力面后端。
type Backend struct {
	mu     sync.Mutex
	inbox  []Message
	outbox []Message
}

// Option 定制后端。
type Option func(*Backend)

// WithInbox 替换默认的样例收件箱。
func WithInbox(messages []Message) Option {
	return func(b *Backend) {
		b.inbox = append([]Message(nil), messages...)
	}
}

// New 创建邮件后端，默认装载样例收件箱。
func New(opts ...Option) *Backend {
	b := &Backend{inbox: fixtureInbox()}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name 实现 tool.Invoker。
func (b *Backend) Name() string { return "gmail" }

// Descriptors 实现 tool.Invoker。
func (b *Backend) Descriptors() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:        "search_email_threads",
			Description: "按查询串检索邮件线程，返回主题、参与人与摘要",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":       map[string]any{"type": "string", "description": "search query"},
					"max_results": map[string]any{"type": "integer", "description": "maximum number of threads"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "get_email_content",
			Description: "按邮件 ID 读取完整正文",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"email_id": map[string]any{"type": "string", "description": "message id"},
				},
				"required": []string{"email_id"},
			},
		},
		{
			Name:        "send_email",
			Description: "发送一封邮件（写操作，须经确认链路）",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to":      map[string]any{"type": "string", "description": "recipient address"},
					"subject": map[string]any{"type": "string", "description": "subject line"},
					"body":    map[string]any{"type": "string", "description": "message body"},
				},
				"required": []string{"to", "subject", "body"},
			},
		},
	}
}

// Invoke 实现 tool.Invoker。
func (b *Backend) Invoke(_ context.Context, toolName string, args map[string]any) (any, error) {
	switch toolName {
	case "search_email_threads":
		query := backend.StringArg(args, "query")
		limit := backend.IntArg(args, "max_results", defaultSearchLimit)
		return b.searchThreads(query, limit), nil
	case "get_email_content":
		id := backend.StringArg(args, "email_id")
		if id == "" {
			return nil, fmt.Errorf("缺少参数 email_id")
		}
		return b.emailContent(id)
	case "send_email":
		return b.sendEmail(args)
	default:
		return nil, fmt.Errorf("邮件后端不提供工具 %s", toolName)
	}
}

// ThreadSummary 是一次线程检索命中的条目。
type ThreadSummary struct {
	ID              string   `json:"id"`
	Subject         string   `json:"subject"`
	Participants    []string `json:"participants"`
	MessageCount    int      `json:"messageCount"`
	LastMessageDate string   `json:"lastMessageDate"`
	Snippet         string   `json:"snippet"`
}

func (b *Backend) searchThreads(query string, limit int) []ThreadSummary {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	b.mu.Lock()
	messages := append([]Message(nil), b.inbox...)
	b.mu.Unlock()

	terms := strings.Fields(strings.ToLower(query))
	byThread := make(map[string][]Message)
	for _, message := range messages {
		if !matchesTerms(message, terms) {
			continue
		}
		byThread[message.ThreadID] = append(byThread[message.ThreadID], message)
	}

	summaries := make([]ThreadSummary, 0, len(byThread))
	for threadID, hits := range byThread {
		last := hits[len(hits)-1]
		summaries = append(summaries, ThreadSummary{
			ID:              threadID,
			Subject:         hits[0].Subject,
			Participants:    participants(hits),
			MessageCount:    len(hits),
			LastMessageDate: last.Date,
			Snippet:         snippet(last.Body),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessageDate > summaries[j].LastMessageDate
	})
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries
}

// matchesTerms 要求全部检索词命中主题、正文或发件人之一；空查询返回全部。
func matchesTerms(message Message, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(message.Subject + " " + message.Body + " " + message.From)
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func participants(messages []Message) []string {
	seen := make(map[string]bool)
	var list []string
	for _, message := range messages {
		if !seen[message.From] {
			seen[message.From] = true
			list = append(list, message.From)
		}
	}
	return list
}

func snippet(body string) string {
	const maxSnippet = 120
	body = strings.TrimSpace(body)
	if len(body) <= maxSnippet {
		return body
	}
	return body[:maxSnippet] + "..."
}

func (b *Backend) emailContent(id string) (Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, message := range b.inbox {
		if message.ID == id {
			return message, nil
		}
	}
	return Message{}, fmt.Errorf("未找到邮件 %s", id)
}

// SendReceipt 是发送动作的回执。
type SendReceipt struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (b *Backend) sendEmail(args map[string]any) (SendReceipt, error) {
	to := backend.StringArg(args, "to")
	subject := backend.StringArg(args, "subject")
	body := backend.StringArg(args, "body")
	if to == "" || subject == "" || body == "" {
		return SendReceipt{}, fmt.Errorf("发送邮件需要 to、subject 与 body")
	}

	message := Message{
		ID:      "sent-" + uuid.NewString(),
		From:    backend.StringArg(args, "user_id"),
		To:      []string{to},
		Subject: subject,
		Body:    body,
	}
	b.mu.Lock()
	b.outbox = append(b.outbox, message)
	b.mu.Unlock()

	return SendReceipt{Success: true, MessageID: message.ID, Status: "sent"}, nil
}

// Outbox 返回已记录的发送动作，测试用。
func (b *Backend) Outbox() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.outbox...)
}

var _ tool.Invoker = (*Backend)(nil)
