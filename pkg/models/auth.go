package models

import "time"

// User is a dashboard account as stored in the users table.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	RoleID       int       `json:"roleId"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PublicUser is the subset of a User that is safe to return to clients.
type PublicUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	RoleID    int    `json:"roleId"`
}

// Public strips credentials and bookkeeping fields.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		RoleID:    u.RoleID,
	}
}

// Principal is the identity recovered from a verified access token.
// It lives for one request and is never persisted.
type Principal struct {
	UserID      int64    `json:"userId"`
	Email       string   `json:"email"`
	RoleID      int      `json:"roleId"`
	Permissions []string `json:"permissions"`
}
