package identity

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the domain representation of an account. The same account can
// post requests and offers; only admins resolve disputes.
// No JSON annotations here so different presentation layers can shape
// their own views.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	// Languages matters for flight companions; it is shown to requesters
	// alongside candidates.
	Languages []string
	// Rating and CompletedCount are the profile-side source of the values
	// denormalized onto offers at posting time.
	Rating         float64
	CompletedCount int
	Role           Role
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FullName  string   `json:"full_name"`
	Phone     *string  `json:"phone,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
