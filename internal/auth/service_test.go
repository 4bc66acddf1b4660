package auth

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := NewMemoryStore(nil)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	cfg := Config{
		Mode: ModeJWT,
		JWT: JWTOptions{
			Secret:    "test-secret",
			Issuer:    "aegis-test",
			AccessTTL: 60,
		},
		Seeds: []Seed{
			{
				Username:    "alice",
				Password:    "s3cret",
				Permissions: []string{"query:run"},
				Surfaces:    []string{"READ_WALLET", "READ_GMAIL"},
				Credentials: map[string]string{"gmail_token": "tok-123"},
			},
		},
	}
	svc, err := NewService(context.Background(), cfg, store)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc
}

func TestAuthenticateNarrowsSurfaces(t *testing.T) {
	svc := newTestService(t)
	pair, err := svc.Authenticate(context.Background(), TokenRequest{
		Username: "alice",
		Password: "s3cret",
		Surfaces: []string{"read_wallet"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pair.GrantedSurfaces) != 1 || pair.GrantedSurfaces[0] != "READ_WALLET" {
		t.Fatalf("expected token scoped to READ_WALLET, got %v", pair.GrantedSurfaces)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if !subject.HasSurface(SurfaceReadWallet) {
		t.Fatalf("expected READ_WALLET on scoped subject")
	}
	if subject.HasSurface(SurfaceReadGmail) {
		t.Fatalf("scoped token must not retain READ_GMAIL")
	}

	rc := subject.Runtime()
	if !rc.Allows(SurfaceReadWallet) {
		t.Fatalf("runtime context should allow READ_WALLET")
	}
	if rc.Allows(SurfaceReadGmail) || rc.Allows(SurfaceWriteGmail) || rc.Allows(SurfaceUnknown) {
		t.Fatalf("runtime context must deny ungranted surfaces")
	}
	if value, ok := rc.Credential("gmail_token"); !ok || value != "tok-123" {
		t.Fatalf("expected seeded credential, got %q (%v)", value, ok)
	}
}

func TestAuthenticateRejectsUngrantedSurface(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Authenticate(context.Background(), TokenRequest{
		Username: "alice",
		Password: "s3cret",
		Surfaces: []string{"WRITE_GMAIL"},
	})
	if !errors.Is(err, ErrSurfaceNotGranted) {
		t.Fatalf("expected ErrSurfaceNotGranted, got %v", err)
	}
}

func TestRefreshGrantPreservesScope(t *testing.T) {
	svc := newTestService(t)
	pair, err := svc.Authenticate(context.Background(), TokenRequest{
		Username: "alice",
		Password: "s3cret",
		Surfaces: []string{"READ_WALLET"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	renewed, err := svc.Authenticate(context.Background(), TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: pair.RefreshToken,
	})
	if err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	if len(renewed.GrantedSurfaces) != 1 || renewed.GrantedSurfaces[0] != "READ_WALLET" {
		t.Fatalf("refresh must preserve the narrowed scope, got %v", renewed.GrantedSurfaces)
	}
	if renewed.AccessToken == "" || renewed.AccessToken == pair.AccessToken {
		t.Fatalf("expected a fresh access token")
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Authenticate(context.Background(), TokenRequest{
		Username: "alice",
		Password: "wrong",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
