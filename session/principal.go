package session

import "github.com/jrsteele09/mailsentry-console/internal/utils"

// Principal is the authenticated user's profile as returned by the backend.
type Principal struct {
	ID                 int64   `json:"id"`
	Username           string  `json:"username"`
	Email              string  `json:"email"`
	Github             *string `json:"github,omitempty"`
	Wechat             *string `json:"wechat,omitempty"`
	RegistrationMethod string  `json:"registration_method,omitempty"`
	CreatedAt          *string `json:"created_at,omitempty"` // ISO 8601, zone not guaranteed
	UpdatedAt          *string `json:"updated_at,omitempty"`
	IsActivated        bool    `json:"is_activated,omitempty"`
}

// DisplayName prefers the username and falls back to the email address.
func (p Principal) DisplayName() string {
	if p.Username != "" {
		return p.Username
	}
	return p.Email
}

// Handles returns the linked third party handles that are set.
func (p Principal) Handles() map[string]string {
	handles := map[string]string{}
	if v := utils.Value(p.Github); v != "" {
		handles["github"] = v
	}
	if v := utils.Value(p.Wechat); v != "" {
		handles["wechat"] = v
	}
	return handles
}

// loginData is the data object of a successful login response.
type loginData struct {
	Token     string     `json:"token"`
	ExpiresIn int64      `json:"expires_in"`
	User      *Principal `json:"user"`
}

// verifyData is the data object of a successful verify-token response.
type verifyData struct {
	User *Principal `json:"user"`
}
