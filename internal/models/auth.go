package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

// Roles recognised by the engine. Identity and credentials live with the
// external identity collaborator; this engine only validates its tokens.
const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStudent UserRole = "STUDENT"
)

// AccessClaims is the JWT payload minted by the identity provider.
// StudentKey is empty for administrative tokens.
type AccessClaims struct {
	Role       UserRole `json:"role"`
	StudentKey string   `json:"student_key,omitempty"`
	FullName   string   `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}
