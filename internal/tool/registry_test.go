package tool

import (
	"os"
	"path/filepath"
	"testing"

	"Aegis-MCP/internal/auth"
)

func TestLoadDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadDefinitions("  ")
	if err != nil {
		t.Fatalf("empty path must not fail: %v", err)
	}
	if defs.Tools == nil || len(defs.Tools) != 0 {
		t.Fatalf("expected empty definitions, got %+v", defs)
	}
}

func TestLoadDefinitionsAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := `tools:
  send_email:
    description: "通过 Gmail 发送邮件"
    remote_endpoint: "http://127.0.0.1:8001"
  get_x_dms:
    disabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions failed: %v", err)
	}

	backend := &stubBackend{name: "combo", tools: []string{"send_email", "get_x_dms"}}
	registry, err := NewRegistry(defs, backend)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	descriptor, _, ok := registry.Lookup("send_email")
	if !ok {
		t.Fatal("send_email should stay registered")
	}
	if descriptor.Description != "通过 Gmail 发送邮件" || descriptor.RemoteEndpoint != "http://127.0.0.1:8001" {
		t.Fatalf("override not applied: %+v", descriptor)
	}
	if _, _, ok := registry.Lookup("get_x_dms"); ok {
		t.Fatal("disabled tool must not register")
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	first := &stubBackend{name: "a", tools: []string{"send_email"}}
	second := &stubBackend{name: "b", tools: []string{"Send_Email"}}
	if _, err := NewRegistry(Definitions{}, first, second); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistryBySurfaceAndSchemas(t *testing.T) {
	backend := &stubBackend{name: "wallet", tools: []string{
		"get_wallet_portfolio",
		"get_token_balances",
		"build_transfer_transaction",
	}}
	registry := newTestRegistry(t, backend)

	reads := registry.BySurface(auth.SurfaceReadWallet)
	if len(reads) != 2 || reads[0].Name != "get_token_balances" || reads[1].Name != "get_wallet_portfolio" {
		t.Fatalf("unexpected READ_WALLET tools: %+v", reads)
	}
	signs := registry.BySurface(auth.SurfaceSignTransactions)
	if len(signs) != 1 || signs[0].Name != "build_transfer_transaction" {
		t.Fatalf("unexpected SIGN_TRANSACTIONS tools: %+v", signs)
	}

	schemas := registry.Schemas()
	if len(schemas) != 3 {
		t.Fatalf("expected 3 schemas, got %d", len(schemas))
	}
	if schemas[0].Name != "build_transfer_transaction" {
		t.Fatalf("schemas must be sorted by name, got %s first", schemas[0].Name)
	}
}
