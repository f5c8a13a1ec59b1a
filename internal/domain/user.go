package domain

import "time"

// Role is a user's access level.
type Role string

// Roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// HasPermission reports whether r grants at least the access of required.
func (r Role) HasPermission(required Role) bool {
	levels := map[Role]int{
		RoleUser:  1,
		RoleAdmin: 2,
	}
	return levels[r] >= levels[required]
}

// User mirrors an account of the external authentication service.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin returns true if the user holds the admin role and is not blocked.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin && !u.Blocked
}

// Actor identifies who performs a privileged action.
type Actor struct {
	UID    string
	Email  string
	Origin string
}
