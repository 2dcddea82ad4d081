package domain

import "time"

// Role identifies the authorization tier carried in token claims.
type Role string

const (
	RoleAdmin          Role = "ADMIN"
	RoleProjectManager Role = "PROJECT_MANAGER"
	RoleContractor     Role = "CONTRACTOR"
	RoleViewer         Role = "VIEWER"
)

// UserStatus represents lifecycle states for an account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the credential-bearing account record consumed by the auth core.
// Everything else about a user lives with the domain CRUD outside this service.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	CompanyID    *string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
