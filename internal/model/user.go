package model

import "time"

// Role is the kind of account a principal acts as.
type Role string

const (
	RoleBrand      Role = "brand"
	RoleInfluencer Role = "influencer"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleBrand, RoleInfluencer, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// User is the subset of an account the engine reads. Registration and
// credentials are handled elsewhere.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
