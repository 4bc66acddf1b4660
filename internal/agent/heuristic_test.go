package agent

import (
	"testing"

	"Aegis-MCP/internal/auth"
)

func TestClassifyHeuristically(t *testing.T) {
	cases := []struct {
		query    string
		surfaces []auth.Surface
		write    bool
		action   string
	}{
		{
			query:    "What's my wallet balance?",
			surfaces: []auth.Surface{auth.SurfaceReadWallet},
		},
		{
			query:    "Send 0.5 ETH to 0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			surfaces: []auth.Surface{auth.SurfaceReadWallet, auth.SurfaceSignTransactions},
			write:    true,
			action:   "sign_transaction",
		},
		{
			query:    "swap WETH for USDC",
			surfaces: []auth.Surface{auth.SurfaceReadWallet, auth.SurfaceSignTransactions},
			write:    true,
			action:   "swap_tokens",
		},
		{
			query:    "stake my tokens somewhere safe",
			surfaces: []auth.Surface{auth.SurfaceReadWallet, auth.SurfaceSignTransactions},
			write:    true,
			action:   "stake_tokens",
		},
		{
			query:    "Check my email about my wallet",
			surfaces: []auth.Surface{auth.SurfaceReadGmail, auth.SurfaceReadWallet},
		},
		{
			query:    "post a tweet about the launch",
			surfaces: []auth.Surface{auth.SurfaceReadSocialX, auth.SurfaceWriteSocialX},
			write:    true,
			action:   "post_tweet",
		},
		{
			query:    "any new telegram messages?",
			surfaces: []auth.Surface{auth.SurfaceReadSocialTelegram},
		},
		{
			query:    "reply to the invoice email",
			surfaces: []auth.Surface{auth.SurfaceReadGmail, auth.SurfaceWriteGmail},
			write:    true,
			action:   "send_email",
		},
		{
			query:    "hello there",
			surfaces: nil,
		},
	}

	for _, tc := range cases {
		intent := classifyHeuristically(tc.query)
		if len(intent.Surfaces) != len(tc.surfaces) {
			t.Fatalf("%q: expected surfaces %v, got %v", tc.query, tc.surfaces, intent.Surfaces)
		}
		for i, surface := range tc.surfaces {
			if intent.Surfaces[i] != surface {
				t.Fatalf("%q: expected surfaces %v, got %v", tc.query, tc.surfaces, intent.Surfaces)
			}
		}
		if intent.Write != tc.write {
			t.Fatalf("%q: expected write=%v, got %v", tc.query, tc.write, intent.Write)
		}
		if intent.Action != tc.action {
			t.Fatalf("%q: expected action %q, got %q", tc.query, tc.action, intent.Action)
		}
	}
}

func TestTokenizeMatchesWholeWordsOnly(t *testing.T) {
	for _, query := range []string{
		"admin dashboard",
		"the method works",
		"posting guidelines",
	} {
		intent := classifyHeuristically(query)
		if len(intent.Surfaces) != 0 {
			t.Fatalf("%q: substring should not classify, got %v", query, intent.Surfaces)
		}
	}
}

func TestTokenizeAlignsPlurals(t *testing.T) {
	intent := classifyHeuristically("check my emails and dms")
	expected := []auth.Surface{auth.SurfaceReadGmail, auth.SurfaceReadSocialX}
	if len(intent.Surfaces) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, intent.Surfaces)
	}
	for i, surface := range expected {
		if intent.Surfaces[i] != surface {
			t.Fatalf("expected %v, got %v", expected, intent.Surfaces)
		}
	}
	if intent.Write {
		t.Fatalf("reading messages is not a write intent")
	}
}

func TestSearchTerms(t *testing.T) {
	cases := []struct {
		query string
		terms string
	}{
		{"Do I have any email with a verification code?", "verification code"},
		{"Show me the latest invoice from ACME", "invoice acme"},
		{"code code code", "code"},
		{"show me my inbox", ""},
	}
	for _, tc := range cases {
		if got := searchTerms(tc.query); got != tc.terms {
			t.Fatalf("%q: expected %q, got %q", tc.query, tc.terms, got)
		}
	}
}

func TestFindSymbol(t *testing.T) {
	cases := []struct {
		query  string
		symbol string
	}{
		{"What is the price of WETH?", "WETH"},
		{"price of usdc", ""},
		{"I sent 5 ETH yesterday", "ETH"},
		{"what's the price", ""},
	}
	for _, tc := range cases {
		if got := findSymbol(tc.query); got != tc.symbol {
			t.Fatalf("%q: expected %q, got %q", tc.query, tc.symbol, got)
		}
	}
}
