// Package social 实现社交能力面后端：X 私信与提及、Telegram 消息的读取
// 与发送。后端以内置样例消息流工作，发送动作记录到发件暂存区并返回回执。
package social

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"Aegis-MCP/internal/backend"
	"Aegis-MCP/internal/tool"
)

const defaultFeedLimit = 20

// DirectMessage 是一条 X 私信。
type DirectMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	Text           string `json:"text"`
	Timestamp      string `json:"timestamp"`
}

// Mention 是一条提及当前用户的帖子。
type Mention struct {
	ID             string `json:"id"`
	AuthorID       string `json:"authorId"`
	AuthorUsername string `json:"authorUsername"`
	Text           string `json:"text"`
	Timestamp      string `json:"timestamp"`
}

// TelegramMessage 是一条 Telegram 消息。
type TelegramMessage struct {
	ID           string `json:"id"`
	ChatID       string `json:"chatId"`
	FromID       string `json:"fromId"`
	FromUsername string `json:"fromUsername"`
	Text         string `json:"text"`
	Timestamp    string `json:"timestamp"`
}

// Outgoing 是一次发送动作的记录。
type Outgoing struct {
	Network   string `json:"network"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

// Backend 是社交能力面后端。
type Backend struct {
	mu       sync.Mutex
	dms      []DirectMessage
	mentions []Mention
	telegram []TelegramMessage
	outbox   []Outgoing
}

// Option 定制后端。
type Option func(*Backend)

// WithDMs 替换默认的私信样例。
func WithDMs(dms []DirectMessage) Option {
	return func(b *Backend) { b.dms = append([]DirectMessage(nil), dms...) }
}

// WithMentions 替换默认的提及样例。
func WithMentions(mentions []Mention) Option {
	return func(b *Backend) { b.mentions = append([]Mention(nil), mentions...) }
}

// WithTelegram 替换默认的 Telegram 样例。
func WithTelegram(messages []TelegramMessage) Option {
	return func(b *Backend) { b.telegram = append([]TelegramMessage(nil), messages...) }
}

// New 创建社交后端，默认装载样例消息流。
func New(opts ...Option) *Backend {
	b := &Backend{
		dms:      fixtureDMs(),
		mentions: fixtureMentions(),
		telegram: fixtureTelegram(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name 实现 tool.Invoker。
func (b *Backend) Name() string { return "social" }

// Descriptors 实现 tool.Invoker。
func (b *Backend) Descriptors() []tool.Descriptor {
	limitSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer", "description": "maximum number of items"},
		},
	}
	return []tool.Descriptor{
		{Name: "get_x_dms", Description: "读取 X 私信", InputSchema: limitSchema},
		{Name: "get_x_mentions", Description: "读取 X 提及", InputSchema: limitSchema},
		{
			Name:        "send_x_dm",
			Description: "发送 X 私信（写操作，须经确认链路）",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"recipient_id": map[string]any{"type": "string", "description": "recipient user id"},
					"text":         map[string]any{"type": "string", "description": "message text"},
				},
				"required": []string{"recipient_id", "text"},
			},
		},
		{Name: "get_telegram_messages", Description: "读取 Telegram 消息", InputSchema: limitSchema},
		{
			Name:        "send_telegram_message",
			Description: "发送 Telegram 消息（写操作，须经确认链路）",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"chat_id": map[string]any{"type": "string", "description": "chat id"},
					"text":    map[string]any{"type": "string", "description": "message text"},
				},
				"required": []string{"chat_id", "text"},
			},
		},
	}
}

// Invoke 实现 tool.Invoker。
func (b *Backend) Invoke(_ context.Context, toolName string, args map[string]any) (any, error) {
	limit := backend.IntArg(args, "limit", defaultFeedLimit)
	switch toolName {
	case "get_x_dms":
		return capSlice(b.snapshotDMs(), limit), nil
	case "get_x_mentions":
		return capSlice(b.snapshotMentions(), limit), nil
	case "get_telegram_messages":
		return capSlice(b.snapshotTelegram(), limit), nil
	case "send_x_dm":
		return b.send("x", backend.StringArg(args, "recipient_id"), backend.StringArg(args, "text"))
	case "send_telegram_message":
		return b.send("telegram", backend.StringArg(args, "chat_id"), backend.StringArg(args, "text"))
	default:
		return nil, fmt.Errorf("社交后端不提供工具 %s", toolName)
	}
}

func capSlice[T any](items []T, limit int) []T {
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func (b *Backend) snapshotDMs() []DirectMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DirectMessage(nil), b.dms...)
}

func (b *Backend) snapshotMentions() []Mention {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Mention(nil), b.mentions...)
}

func (b *Backend) snapshotTelegram() []TelegramMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]TelegramMessage(nil), b.telegram...)
}

// SendReceipt 是发送动作的回执。
type SendReceipt struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (b *Backend) send(network, recipient, text string) (SendReceipt, error) {
	if recipient == "" || text == "" {
		return SendReceipt{}, fmt.Errorf("发送 %s 消息需要接收方与文本", network)
	}
	out := Outgoing{
		Network:   network,
		Recipient: recipient,
		Text:      text,
		MessageID: network + "-sent-" + uuid.NewString(),
	}
	b.mu.Lock()
	b.outbox = append(b.outbox, out)
	b.mu.Unlock()
	return SendReceipt{Success: true, MessageID: out.MessageID, Status: "sent"}, nil
}

// Outbox 返回已记录的发送动作，测试用。
func (b *Backend) Outbox() []Outgoing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Outgoing(nil), b.outbox...)
}

var _ tool.Invoker = (*Backend)(nil)
