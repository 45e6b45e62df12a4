package model

import "time"

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	NationalID   string    `json:"national_id,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuthClaims is the decoded content of an access token. Role is the role
// the subject held when the token was minted.
type AuthClaims struct {
	UserID    string    `json:"sub"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

type AuthUser struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	NationalID string `json:"national_id,omitempty"`
	Role       Role   `json:"role"`
	IsActive   bool   `json:"is_active"`
}

type UserListData struct {
	Items []AuthUser `json:"items"`
}

func (u User) Public() AuthUser {
	return AuthUser{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		NationalID: u.NationalID,
		Role:       u.Role,
		IsActive:   u.IsActive,
	}
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	User         *AuthUser `json:"user,omitempty"`
}
