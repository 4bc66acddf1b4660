package tool

import (
	"testing"

	"Aegis-MCP/internal/auth"
)

func TestClassifyKnownFamilies(t *testing.T) {
	cases := []struct {
		tool string
		want auth.Surface
	}{
		{"search_email_threads", auth.SurfaceReadGmail},
		{"get_email_content", auth.SurfaceReadGmail},
		{"send_email", auth.SurfaceWriteGmail},
		{"get_x_dms", auth.SurfaceReadSocialX},
		{"get_x_mentions", auth.SurfaceReadSocialX},
		{"send_x_dm", auth.SurfaceWriteSocialX},
		{"post_twitter_thread", auth.SurfaceWriteSocialX},
		{"get_telegram_messages", auth.SurfaceReadSocialTelegram},
		{"send_telegram_message", auth.SurfaceWriteSocialTelegram},
		{"get_wallet_portfolio", auth.SurfaceReadWallet},
		{"get_token_balances", auth.SurfaceReadWallet},
		{"get_transaction_history", auth.SurfaceReadWallet},
		{"get_priority_fee_estimate", auth.SurfaceReadWallet},
		{"get_token_price", auth.SurfaceReadWallet},
		{"get_lending_rates", auth.SurfaceReadWallet},
		{"get_nft_collection", auth.SurfaceReadWallet},
		{"get_market_analysis", auth.SurfaceReadWallet},
		{"build_transfer_transaction", auth.SurfaceSignTransactions},
		{"build_swap_transaction", auth.SurfaceSignTransactions},
	}
	for _, tc := range cases {
		if got := Classify(tc.tool); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.tool, got, tc.want)
		}
	}
}

// 含 swap 的报价工具会被归入签名能力面：写动词命中即按写处理，宁可
// 要求更强的授权。
func TestClassifySwapQuoteRequiresSigning(t *testing.T) {
	if got := Classify("get_swap_quote"); got != auth.SurfaceSignTransactions {
		t.Fatalf("Classify(get_swap_quote) = %s, want %s", got, auth.SurfaceSignTransactions)
	}
}

func TestClassifyUnknown(t *testing.T) {
	for _, tool := range []string{"", "   ", "delete_files", "calculate_sum", "send_rocket"} {
		if got := Classify(tool); got != auth.SurfaceUnknown {
			t.Errorf("Classify(%q) = %s, want UNKNOWN", tool, got)
		}
	}
}

func TestClassifyNormalizesName(t *testing.T) {
	if got := Classify("  Send_Email  "); got != auth.SurfaceWriteGmail {
		t.Fatalf("Classify should trim and lowercase, got %s", got)
	}
}

func TestCredentialKeyPerSurface(t *testing.T) {
	cases := []struct {
		surface auth.Surface
		want    string
	}{
		{auth.SurfaceReadGmail, "gmail_token"},
		{auth.SurfaceWriteGmail, "gmail_token"},
		{auth.SurfaceReadSocialX, "x_token"},
		{auth.SurfaceWriteSocialX, "x_token"},
		{auth.SurfaceReadSocialTelegram, "telegram_token"},
		{auth.SurfaceWriteSocialTelegram, "telegram_token"},
		{auth.SurfaceReadWallet, ""},
		{auth.SurfaceSignTransactions, ""},
		{auth.SurfaceUnknown, ""},
	}
	for _, tc := range cases {
		if got := credentialKey(tc.surface); got != tc.want {
			t.Errorf("credentialKey(%s) = %q, want %q", tc.surface, got, tc.want)
		}
	}
}
