package models

import "time"

// Role values carried in the JWT role claim.
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

type User struct {
	ID        int64      `json:"id" example:"1"`
	Email     string     `json:"email" example:"user@example.com"`
	FullName  string     `json:"fullName" example:"John Doe"`
	Role      string     `json:"role" example:"CUSTOMER"`
	IsDeleted bool       `json:"-"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
