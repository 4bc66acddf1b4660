package policy

import (
	"context"
	"reflect"
	"testing"

	"Aegis-MCP/internal/audit"
)

type recordingAuditor struct {
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, entry audit.Entry) {
	r.entries = append(r.entries, entry)
}

func TestScanDetectsOTPCode(t *testing.T) {
	engine := NewEngine()
	sensitive, matches := engine.Scan("Your verification code is 123456")
	if !sensitive {
		t.Fatalf("expected text to be flagged as sensitive")
	}
	found := false
	for _, match := range matches {
		if match.Category == CategoryOTP {
			found = true
		}
		if match.Name == "" {
			t.Fatalf("match must carry the rule name")
		}
	}
	if !found {
		t.Fatalf("expected an OTP category match, got %v", matches)
	}
}

func TestScanEmptyTextIsHarmless(t *testing.T) {
	engine := NewEngine()
	sensitive, matches := engine.Scan("")
	if sensitive || matches != nil {
		t.Fatalf("empty text must never be sensitive, got %v %v", sensitive, matches)
	}
}

func TestScanRecoveryPhrase(t *testing.T) {
	engine := NewEngine()
	sensitive, matches := engine.Scan("please back up your seed phrase somewhere safe")
	if !sensitive {
		t.Fatalf("expected seed phrase mention to be flagged")
	}
	if matches[0].Category != CategoryRecovery {
		t.Fatalf("expected RECOVERY category, got %v", matches)
	}
}

func TestScanCreditCardNumber(t *testing.T) {
	engine := NewEngine()
	sensitive, matches := engine.Scan("card on file: 4111 1111 1111 1111 thanks")
	if !sensitive {
		t.Fatalf("expected card number to be flagged")
	}
	if matches[0].Category != CategoryCreditCard {
		t.Fatalf("expected CREDIT_CARD category, got %v", matches)
	}
}

func TestScanWithExtraRules(t *testing.T) {
	custom, err := CompileRule("INTERNAL_TICKET", Category("INTERNAL"), `\bAEG-\d{4,}\b`)
	if err != nil {
		t.Fatalf("compile rule: %v", err)
	}
	engine := NewEngine(WithExtraRules(custom))

	sensitive, matches := engine.Scan("please reference AEG-20481 in the reply")
	if !sensitive {
		t.Fatalf("expected extra rule to flag the text")
	}
	if matches[0].Category != Category("INTERNAL") || matches[0].Name != "INTERNAL_TICKET" {
		t.Fatalf("unexpected match: %v", matches)
	}

	// 内置规则必须继续生效。
	if sensitive, _ := engine.Scan("Your verification code is 123456"); !sensitive {
		t.Fatalf("builtin rules must survive extra rules")
	}

	// 未注入附加规则的引擎不受影响。
	if sensitive, _ := NewEngine().Scan("please reference AEG-20481"); sensitive {
		t.Fatalf("extra rules must stay local to their engine")
	}
}

func TestCompileRuleValidation(t *testing.T) {
	if _, err := CompileRule("", CategoryOTP, `x`); err == nil {
		t.Fatalf("expected error for empty rule name")
	}
	if _, err := CompileRule("BROKEN", CategoryOTP, `([`); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
	if _, err := CompileRule("NO_CATEGORY", Category(""), `x`); err == nil {
		t.Fatalf("expected error for empty category")
	}
}

func TestFilterListBlocksOTPEmail(t *testing.T) {
	engine := NewEngine()
	items := []map[string]any{
		{"subject": "Security alert", "body": "Your verification code is 123456"},
	}
	kept, blocked, categories := engine.FilterList(items, []string{"subject", "body"})
	if len(kept) != 0 {
		t.Fatalf("expected the email to be dropped, kept %d", len(kept))
	}
	if blocked != 1 {
		t.Fatalf("expected blocked count 1, got %d", blocked)
	}
	hasOTP := false
	for _, category := range categories {
		if category == CategoryOTP {
			hasOTP = true
		}
	}
	if !hasOTP {
		t.Fatalf("expected OTP in blocked categories, got %v", categories)
	}
}

func TestFilterListConservation(t *testing.T) {
	engine := NewEngine()
	items := []map[string]any{
		{"subject": "Lunch tomorrow?", "body": "See you at noon"},
		{"subject": "Security alert", "body": "Your verification code is 123456"},
		{"subject": "Team offsite", "body": "Agenda attached"},
		{"subject": "Monthly summary", "body": "Your account statement is ready"},
	}
	kept, blocked, categories := engine.FilterList(items, []string{"subject", "body"})
	if len(kept)+blocked != len(items) {
		t.Fatalf("conservation violated: kept=%d blocked=%d input=%d", len(kept), blocked, len(items))
	}
	if blocked != 2 {
		t.Fatalf("expected 2 blocked items, got %d", blocked)
	}
	if kept[0]["subject"] != "Lunch tomorrow?" || kept[1]["subject"] != "Team offsite" {
		t.Fatalf("kept items must preserve input order, got %v", kept)
	}
	want := []Category{CategoryBank, CategoryOTP}
	if !reflect.DeepEqual(categories, want) {
		t.Fatalf("expected sorted categories %v, got %v", want, categories)
	}
}

func TestFilterListIdempotent(t *testing.T) {
	engine := NewEngine()
	items := []map[string]any{
		{"subject": "Lunch tomorrow?", "body": "See you at noon"},
		{"subject": "Security alert", "body": "Your verification code is 123456"},
	}
	kept, _, _ := engine.FilterList(items, []string{"subject", "body"})
	again, blocked, categories := engine.FilterList(kept, []string{"subject", "body"})
	if blocked != 0 || len(categories) != 0 {
		t.Fatalf("filtering filtered output must be a no-op, blocked=%d categories=%v", blocked, categories)
	}
	if !reflect.DeepEqual(kept, again) {
		t.Fatalf("kept items must survive a second pass unchanged")
	}
}

func TestFilterDataRejectsSensitiveString(t *testing.T) {
	engine := NewEngine()
	verdict := engine.FilterData("user-1", "READ_GMAIL", "your new password: hunter2")
	if !verdict.Rejected {
		t.Fatalf("expected whole payload rejection")
	}
	if verdict.Blocked != 1 {
		t.Fatalf("expected blocked count 1, got %d", verdict.Blocked)
	}
	if len(verdict.Categories) == 0 || verdict.Categories[0] != CategoryPassword {
		t.Fatalf("expected PASSWORD category, got %v", verdict.Categories)
	}
}

func TestFilterDataFiltersMessageList(t *testing.T) {
	engine := NewEngine()
	payload := []any{
		map[string]any{"text": "see you at the meetup"},
		map[string]any{"text": "code: 48213 expires soon"},
	}
	verdict := engine.FilterData("user-1", "READ_SOCIAL_TELEGRAM", payload)
	if verdict.Rejected {
		t.Fatalf("list payloads are filtered, not rejected outright")
	}
	if verdict.Blocked != 1 {
		t.Fatalf("expected one blocked message, got %d", verdict.Blocked)
	}
	kept, ok := verdict.Data.([]map[string]any)
	if !ok || len(kept) != 1 {
		t.Fatalf("expected one surviving message, got %T %v", verdict.Data, verdict.Data)
	}
	if kept[0]["text"] != "see you at the meetup" {
		t.Fatalf("wrong message kept: %v", kept[0])
	}
}

func TestFilterDataEmitsAuditRecord(t *testing.T) {
	auditor := &recordingAuditor{}
	engine := NewEngine(WithRecorder(auditor))

	payload := []any{map[string]any{"subject": "Security alert", "body": "Your verification code is 123456"}}
	verdict := engine.FilterData("user-7", "READ_GMAIL", payload)
	if verdict.Blocked != 1 {
		t.Fatalf("expected one blocked record, got %d", verdict.Blocked)
	}

	if len(auditor.entries) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(auditor.entries))
	}
	entry := auditor.entries[0]
	if entry.Kind != audit.KindPolicyBlock {
		t.Fatalf("expected policy_block kind, got %s", entry.Kind)
	}
	if entry.UserID != "user-7" || entry.Surface != "READ_GMAIL" {
		t.Fatalf("audit record must carry user and surface: %+v", entry)
	}
	hasOTP := false
	for _, category := range entry.Categories {
		if category == string(CategoryOTP) {
			hasOTP = true
		}
	}
	if !hasOTP {
		t.Fatalf("audit record must report categories, got %v", entry.Categories)
	}
	if entry.Summary == "" {
		t.Fatalf("audit record must carry a summary")
	}

	// 无命中时不应产生审计记录。
	engine.FilterData("user-7", "READ_GMAIL", []any{map[string]any{"subject": "Lunch", "body": "noon"}})
	if len(auditor.entries) != 1 {
		t.Fatalf("clean payloads must not emit audit records, got %d", len(auditor.entries))
	}
}

func TestFilterDataPassesUnrecognisedShapes(t *testing.T) {
	engine := NewEngine()
	payload := map[string]any{"balance_wei": "123456789", "chain_id": 1}
	verdict := engine.FilterData("user-1", "READ_WALLET", payload)
	if verdict.Rejected || verdict.Blocked != 0 {
		t.Fatalf("structured wallet data must pass through untouched")
	}
	if !reflect.DeepEqual(verdict.Data, payload) {
		t.Fatalf("payload must be returned unchanged")
	}
}
