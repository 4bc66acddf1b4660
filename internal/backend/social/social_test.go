package social

import (
	"context"
	"testing"
)

func TestFeedsHonorLimit(t *testing.T) {
	b := New()

	result, err := b.Invoke(context.Background(), "get_telegram_messages", map[string]any{"limit": 2})
	if err != nil {
		t.Fatalf("get_telegram_messages failed: %v", err)
	}
	messages := result.([]TelegramMessage)
	if len(messages) != 2 {
		t.Fatalf("expected limit to cap feed, got %d", len(messages))
	}

	result, err = b.Invoke(context.Background(), "get_x_dms", nil)
	if err != nil {
		t.Fatalf("get_x_dms failed: %v", err)
	}
	if dms := result.([]DirectMessage); len(dms) != 2 {
		t.Fatalf("expected full fixture feed, got %d", len(dms))
	}
}

func TestSendRecordsOutbox(t *testing.T) {
	b := New()

	result, err := b.Invoke(context.Background(), "send_x_dm", map[string]any{
		"recipient_id": "u-501",
		"text":         "See you at the meetup.",
	})
	if err != nil {
		t.Fatalf("send_x_dm failed: %v", err)
	}
	receipt := result.(SendReceipt)
	if !receipt.Success || receipt.Status != "sent" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	if _, err := b.Invoke(context.Background(), "send_telegram_message", map[string]any{
		"chat_id": "chat-71",
		"text":    "On my way.",
	}); err != nil {
		t.Fatalf("send_telegram_message failed: %v", err)
	}

	outbox := b.Outbox()
	if len(outbox) != 2 || outbox[0].Network != "x" || outbox[1].Network != "telegram" {
		t.Fatalf("outbox not recorded: %+v", outbox)
	}
}

func TestSendValidatesInput(t *testing.T) {
	b := New()
	if _, err := b.Invoke(context.Background(), "send_x_dm", map[string]any{"recipient_id": "u-501"}); err == nil {
		t.Fatal("expected validation error for missing text")
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	b := New()
	if _, err := b.Invoke(context.Background(), "get_x_followers", nil); err == nil {
		t.Fatal("expected error for unsupported tool")
	}
}
