package identity_test

import (
	"testing"

	"inspectline/internal/domain"
	"inspectline/internal/identity"
)

func TestDeriveRole(t *testing.T) {
	const adminDomain = "inspectline.io"
	cases := []struct {
		email string
		want  domain.Role
	}{
		{"alice@inspectline.io", domain.RoleAdmin},
		{"Alice@INSPECTLINE.IO", domain.RoleAdmin},
		{"bob@ops.inspectline.io", domain.RoleAdmin},
		{"carol@example.com", domain.RolePrimary},
		{"mallory@notinspectline.io", domain.RolePrimary},
		{"no-at-sign", domain.RolePrimary},
		{"", domain.RolePrimary},
		{"trailing@", domain.RolePrimary},
		{"@inspectline.io", domain.RoleAdmin},
	}
	for _, c := range cases {
		if got := identity.DeriveRole(c.email, adminDomain); got != c.want {
			t.Errorf("DeriveRole(%q) = %s, want %s", c.email, got, c.want)
		}
	}
}

func TestDeriveRoleEmptyAdminDomain(t *testing.T) {
	if got := identity.DeriveRole("alice@inspectline.io", ""); got != domain.RolePrimary {
		t.Fatalf("expected primary with no admin domain, got %s", got)
	}
}

func TestResolve(t *testing.T) {
	id := identity.Resolve("u1", "a@inspectline.io", "Alice", "inspectline.io")
	if id.UID != "u1" || id.Email != "a@inspectline.io" || id.Name != "Alice" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if !id.IsAdmin() {
		t.Fatalf("expected admin")
	}
}
