// ABOUTME: Principal variants for channel authorization decisions
// ABOUTME: Anonymous-by-possession visitors vs role-bearing authenticated users

package channel

// Role is a role an authenticated user can hold.
type Role string

const (
	// RoleVisitor marks an authenticated customer who still participates
	// only in their own conversations.
	RoleVisitor Role = "visitor"

	// RoleAgent marks support staff who may join any conversation.
	RoleAgent Role = "agent"

	// RoleAdmin has everything RoleAgent has.
	RoleAdmin Role = "admin"
)

// Principal is the identity attached to a subscription request. It is a
// sealed union: Anonymous or Authenticated. Dispatching on the variant
// happens exactly once, inside Authorizer.Authorize, instead of scattering
// "is this user logged in" checks across components.
type Principal interface {
	principal()
}

// Anonymous is a website visitor with no account. Their only credential is
// possession of a conversation id.
type Anonymous struct{}

func (Anonymous) principal() {}

// Authenticated is a logged-in user carrying a role set.
type Authenticated struct {
	UserID      string
	DisplayName string
	Roles       []Role
}

func (Authenticated) principal() {}

// HasRole reports whether the user holds the given role.
func (a Authenticated) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStaff reports whether the user may observe and join any conversation.
func (a Authenticated) IsStaff() bool {
	return a.HasRole(RoleAgent) || a.HasRole(RoleAdmin)
}
