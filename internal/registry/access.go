package registry

import (
	"github.com/ticketforge/ticket-registry/internal/domain"
)

// AccessControl is the single place role grants live and are checked. Each
// operation asks it for the capability it needs before touching any state.
type AccessControl struct {
	roles map[domain.Account]map[domain.Role]bool
}

// NewAccessControl seeds admin with the ADMIN role. Admin can re-grant
// itself indefinitely; there is no recovery path beyond that.
func NewAccessControl(admin domain.Account) *AccessControl {
	ac := &AccessControl{roles: make(map[domain.Account]map[domain.Role]bool)}
	ac.roles[admin] = map[domain.Role]bool{domain.RoleAdmin: true}
	return ac
}

func (ac *AccessControl) Has(account domain.Account, role domain.Role) bool {
	return ac.roles[account][role]
}

// RolesOf returns the roles held by account in a fixed order.
func (ac *AccessControl) RolesOf(account domain.Account) []domain.Role {
	var out []domain.Role
	for _, r := range []domain.Role{domain.RoleAdmin, domain.RoleMinter, domain.RoleValidator} {
		if ac.roles[account][r] {
			out = append(out, r)
		}
	}
	return out
}

func (ac *AccessControl) grant(j *journal, account domain.Account, role domain.Role) {
	had := ac.roles[account][role]
	j.record(func() {
		if !had {
			delete(ac.roles[account], role)
		}
	})
	if ac.roles[account] == nil {
		ac.roles[account] = make(map[domain.Role]bool)
	}
	ac.roles[account][role] = true
}

func (ac *AccessControl) revoke(j *journal, account domain.Account, role domain.Role) {
	had := ac.roles[account][role]
	j.record(func() {
		if had {
			if ac.roles[account] == nil {
				ac.roles[account] = make(map[domain.Role]bool)
			}
			ac.roles[account][role] = true
		}
	})
	delete(ac.roles[account], role)
}
