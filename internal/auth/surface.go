package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Surface identifies one externally reachable capability class. Every tool
// the assistant can invoke maps to exactly one surface, and every permission
// grant is expressed against a surface rather than an individual tool.
type Surface string

const (
	SurfaceReadGmail           Surface = "READ_GMAIL"
	SurfaceWriteGmail          Surface = "WRITE_GMAIL"
	SurfaceReadSocialX         Surface = "READ_SOCIAL_X"
	SurfaceWriteSocialX        Surface = "WRITE_SOCIAL_X"
	SurfaceReadSocialTelegram  Surface = "READ_SOCIAL_TELEGRAM"
	SurfaceWriteSocialTelegram Surface = "WRITE_SOCIAL_TELEGRAM"
	SurfaceReadWallet          Surface = "READ_WALLET"
	SurfaceSignTransactions    Surface = "SIGN_TRANSACTIONS"

	// SurfaceUnknown marks tools no classification rule recognises. It can
	// never be granted, so unclassified tools always fail authorization.
	SurfaceUnknown Surface = "UNKNOWN"
)

// grantableSurfaces lists every surface that may appear in a permission
// grant, in stable presentation order.
var grantableSurfaces = []Surface{
	SurfaceReadGmail,
	SurfaceWriteGmail,
	SurfaceReadSocialX,
	SurfaceWriteSocialX,
	SurfaceReadSocialTelegram,
	SurfaceWriteSocialTelegram,
	SurfaceReadWallet,
	SurfaceSignTransactions,
}

// KnownSurfaces returns every grantable surface in stable order.
func KnownSurfaces() []Surface {
	return append([]Surface(nil), grantableSurfaces...)
}

// ParseSurface maps a case-insensitive name to a Surface. Unrecognised names
// yield SurfaceUnknown together with an error so callers can fail closed.
func ParseSurface(name string) (Surface, error) {
	candidate := Surface(strings.ToUpper(strings.TrimSpace(name)))
	for _, surface := range grantableSurfaces {
		if surface == candidate {
			return surface, nil
		}
	}
	if candidate == SurfaceUnknown {
		return SurfaceUnknown, nil
	}
	return SurfaceUnknown, fmt.Errorf("unknown surface %q", name)
}

// Grantable reports whether the surface may appear in a permission grant.
func (s Surface) Grantable() bool {
	for _, surface := range grantableSurfaces {
		if surface == s {
			return true
		}
	}
	return false
}

// IsWrite reports whether the surface performs an outbound action such as
// sending a message or signing a transaction.
func (s Surface) IsWrite() bool {
	switch s {
	case SurfaceWriteGmail, SurfaceWriteSocialX, SurfaceWriteSocialTelegram, SurfaceSignTransactions:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (s Surface) String() string {
	return string(s)
}

// RuntimeContext carries the per-request identity, surface grants and
// backend credentials threaded through the request pipeline. It is never
// persisted and callers must treat it as immutable: components that need to
// enrich outgoing tool arguments copy values out instead of mutating it.
type RuntimeContext struct {
	UserID        string
	Permissions   map[Surface]bool
	Credentials   map[string]string
	WalletAddress string
}

// Allows reports whether the surface was explicitly granted. Absent entries
// and SurfaceUnknown are always denied.
func (rc *RuntimeContext) Allows(surface Surface) bool {
	if rc == nil || surface == SurfaceUnknown {
		return false
	}
	return rc.Permissions[surface]
}

// Credential returns the named backend credential when present.
func (rc *RuntimeContext) Credential(name string) (string, bool) {
	if rc == nil || len(rc.Credentials) == 0 {
		return "", false
	}
	value, ok := rc.Credentials[name]
	return value, ok
}

// GrantedSurfaces returns the surfaces granted to this context in stable
// order, suitable for prompt construction and audit records.
func (rc *RuntimeContext) GrantedSurfaces() []Surface {
	if rc == nil {
		return nil
	}
	granted := make([]Surface, 0, len(rc.Permissions))
	for surface, allowed := range rc.Permissions {
		if allowed && surface.Grantable() {
			granted = append(granted, surface)
		}
	}
	sort.Slice(granted, func(i, j int) bool { return granted[i] < granted[j] })
	return granted
}

// Clone returns a deep copy so interceptors can derive per-call views
// without touching the caller's maps.
func (rc *RuntimeContext) Clone() *RuntimeContext {
	if rc == nil {
		return nil
	}
	clone := &RuntimeContext{
		UserID:        rc.UserID,
		WalletAddress: rc.WalletAddress,
	}
	if rc.Permissions != nil {
		clone.Permissions = make(map[Surface]bool, len(rc.Permissions))
		for surface, allowed := range rc.Permissions {
			clone.Permissions[surface] = allowed
		}
	}
	if rc.Credentials != nil {
		clone.Credentials = make(map[string]string, len(rc.Credentials))
		for name, value := range rc.Credentials {
			clone.Credentials[name] = value
		}
	}
	return clone
}
