package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled           = errors.New("authentication disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnsupportedGrant   = errors.New("unsupported grant type")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSubjectRevoked     = errors.New("subject is disabled")
	ErrSurfaceNotGranted  = errors.New("surface not granted")
)

// Store abstracts the persistent user catalogue used by the authentication
// service. Implementations must be safe for concurrent use.
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	LoadSubject(ctx context.Context, userID int64) (*Subject, error)
}

// SeedWriter is implemented by stores that can upsert seed users, surface
// grants and credentials for bootstrapping.
type SeedWriter interface {
	ApplySeed(ctx context.Context, seed Seed) error
}

// User represents a persisted account with credentials.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Disabled     bool
}

// Subject captures the information embedded in access tokens and passed to
// request handlers via context. Permissions gate API endpoints; Surfaces
// gate which assistant capabilities the account may exercise.
type Subject struct {
	ID            int64
	Username      string
	Roles         []string
	Permissions   []string
	Surfaces      []string
	Credentials   map[string]string
	WalletAddress string
	Disabled      bool

	permissionsSet map[string]struct{}
	surfacesSet    map[Surface]struct{}
}

// normalise prepares the lookup sets for permission and surface checks.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.permissionsSet == nil {
		s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
		for _, perm := range s.Permissions {
			s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
		}
	}
	if s.surfacesSet == nil {
		s.surfacesSet = make(map[Surface]struct{}, len(s.Surfaces))
		for _, name := range s.Surfaces {
			surface, err := ParseSurface(name)
			if err != nil {
				continue
			}
			s.surfacesSet[surface] = struct{}{}
		}
	}
}

// Normalise ensures internal caches are populated for exported use cases.
func (s *Subject) Normalise() {
	s.normalise()
}

// HasPermission reports whether the subject has the specified API permission.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// HasSurface reports whether the subject was granted the surface.
func (s *Subject) HasSurface(surface Surface) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.surfacesSet[surface]
	return ok
}

// Authorize ensures the subject has all required API permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Runtime builds the fail-closed per-request context from the subject's
// surface grants and stored credentials. Ungranted surfaces are simply
// absent from the map so lookups default to denied.
func (s *Subject) Runtime() *RuntimeContext {
	if s == nil {
		return nil
	}
	s.normalise()
	rc := &RuntimeContext{
		UserID:        s.Username,
		Permissions:   make(map[Surface]bool, len(s.surfacesSet)),
		WalletAddress: s.WalletAddress,
	}
	for surface := range s.surfacesSet {
		if surface.Grantable() {
			rc.Permissions[surface] = true
		}
	}
	if len(s.Credentials) > 0 {
		rc.Credentials = make(map[string]string, len(s.Credentials))
		for name, value := range s.Credentials {
			rc.Credentials[name] = value
		}
	}
	return rc
}

// Clone creates a copy of the subject suitable for embedding in tokens.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		ID:            s.ID,
		Username:      s.Username,
		Roles:         append([]string(nil), s.Roles...),
		Permissions:   append([]string(nil), s.Permissions...),
		Surfaces:      append([]string(nil), s.Surfaces...),
		WalletAddress: s.WalletAddress,
		Disabled:      s.Disabled,
	}
	if len(s.Credentials) > 0 {
		clone.Credentials = make(map[string]string, len(s.Credentials))
		for name, value := range s.Credentials {
			clone.Credentials[name] = value
		}
	}
	clone.normalise()
	return clone
}

// TokenRequest describes the payload accepted by the token issuance
// endpoint. Surfaces optionally narrows the issued token to a subset of the
// account's granted surfaces.
type TokenRequest struct {
	GrantType    string   `json:"grant_type"`
	Username     string   `json:"username"`
	Password     string   `json:"password"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Surfaces     []string `json:"surfaces,omitempty"`
}

// TokenPair contains the issued access and refresh tokens.
type TokenPair struct {
	AccessToken      string   `json:"access_token"`
	ExpiresIn        int64    `json:"expires_in"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64    `json:"refresh_expires_in,omitempty"`
	TokenType        string   `json:"token_type"`
	Subject          *Subject `json:"-"`
	GrantedSurfaces  []string `json:"surfaces,omitempty"`
}

// Config configures the authentication service.
type Config struct {
	Mode  Mode
	JWT   JWTOptions
	Seeds []Seed
}

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// JWTOptions contains parameters for local JWT issuance.
type JWTOptions struct {
	Secret     string
	Issuer     string
	Audience   []string
	AccessTTL  int64
	RefreshTTL int64
}

// Seed defines the initial accounts, grants and credentials to bootstrap.
type Seed struct {
	Username      string
	Password      string
	Roles         []string
	Permissions   []string
	Surfaces      []string
	Credentials   map[string]string
	WalletAddress string
	Disabled      bool
}
