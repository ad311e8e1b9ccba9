package identity

import (
	"strings"

	"inspectline/internal/domain"
)

// DeriveRole maps an email to a role by its domain. Addresses under
// adminDomain (or a subdomain of it) are admins; everything else, including
// malformed addresses, is primary. The comparison is case-insensitive.
//
// Role is always recomputed server-side from verified claims; a role carried
// in client input is never trusted.
func DeriveRole(email, adminDomain string) domain.Role {
	adminDomain = strings.ToLower(strings.TrimSpace(adminDomain))
	if adminDomain == "" {
		return domain.RolePrimary
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return domain.RolePrimary
	}
	host := strings.ToLower(email[at+1:])
	if host == adminDomain || strings.HasSuffix(host, "."+adminDomain) {
		return domain.RoleAdmin
	}
	return domain.RolePrimary
}

// Resolve builds the full identity for verified claims.
func Resolve(uid, email, name, adminDomain string) domain.Identity {
	return domain.Identity{
		UID:   uid,
		Email: email,
		Name:  name,
		Role:  DeriveRole(email, adminDomain),
	}
}
