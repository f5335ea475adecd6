package state

import (
	"sort"
)

// Permission is an administrative right carried by a role.
type Permission string

const (
	ActivateMembership     Permission = "ActivateMembership"
	SuspendMembership      Permission = "SuspendMembership"
	RevokeMembership       Permission = "RevokeMembership"
	ModifyRoles            Permission = "ModifyRoles"
	ModifyBusinessIdentity Permission = "ModifyBusinessIdentity"
	ModifyGroups           Permission = "ModifyGroups"
)

// AllPermissions lists every administrative permission.
var AllPermissions = []Permission{
	ActivateMembership,
	SuspendMembership,
	RevokeMembership,
	ModifyRoles,
	ModifyBusinessIdentity,
	ModifyGroups,
}

// Role is a named bundle of permissions. New bundles are plain values;
// authorization only ever looks at the permission set, never the name.
type Role struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

const (
	AdminRoleName  = "BNO"
	MemberRoleName = "Member"
)

func NewRole(name string, permissions ...Permission) Role {
	perms := append([]Permission(nil), permissions...)
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	out := perms[:0]
	for i, p := range perms {
		if i > 0 && perms[i-1] == p {
			continue
		}
		out = append(out, p)
	}
	return Role{Name: name, Permissions: out}
}

// AdminRole holds every permission. It is granted to the creator of a
// network.
func AdminRole() Role {
	return NewRole(AdminRoleName, AllPermissions...)
}

func MemberRole() Role {
	return NewRole(MemberRoleName)
}

func (r Role) Has(p Permission) bool {
	for _, perm := range r.Permissions {
		if perm == p {
			return true
		}
	}
	return false
}

func (r Role) Equal(other Role) bool {
	a, b := NewRole(r.Name, r.Permissions...), NewRole(other.Name, other.Permissions...)
	if a.Name != b.Name || len(a.Permissions) != len(b.Permissions) {
		return false
	}
	for i := range a.Permissions {
		if a.Permissions[i] != b.Permissions[i] {
			return false
		}
	}
	return true
}

// Roles is a set of roles.
type Roles []Role

func (rs Roles) HasPermission(p Permission) bool {
	for _, r := range rs {
		if r.Has(p) {
			return true
		}
	}
	return false
}

// HasAny reports whether at least one of the permissions is held.
func (rs Roles) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if rs.HasPermission(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether every one of the permissions is held.
func (rs Roles) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !rs.HasPermission(p) {
			return false
		}
	}
	return true
}

// CanModifyMembership reports whether any of activate, suspend or revoke is
// held.
func (rs Roles) CanModifyMembership() bool {
	return rs.HasAny(ActivateMembership, SuspendMembership, RevokeMembership)
}

// Permissions returns the union of all permissions held, sorted.
func (rs Roles) Permissions() []Permission {
	var all []Permission
	for _, r := range rs {
		all = append(all, r.Permissions...)
	}
	return NewRole("", all...).Permissions
}

// Equal compares two role sets irrespective of order.
func (rs Roles) Equal(other Roles) bool {
	if len(rs) != len(other) {
		return false
	}
	used := make([]bool, len(other))
	for _, r := range rs {
		found := false
		for i, o := range other {
			if !used[i] && r.Equal(o) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
