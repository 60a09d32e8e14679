package gateway

import (
	"context"
	"errors"
)

// Auth endpoints, relative to the API base URL.
const (
	PathLogin                = "/auth/login"
	PathLogout               = "/auth/logout"
	PathVerifyToken          = "/auth/verify-token"
	PathCheckUsername        = "/auth/check-username"
	PathSendVerificationCode = "/auth/send-verification-code"
	PathRegister             = "/auth/register"
)

// Credentials are submitted to the login endpoint. Username may also be an email address.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is submitted to the register endpoint.
type Registration struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	VerificationCode string `json:"verification_code"`
}

// AuthAPI wraps the authentication endpoints of the backend.
type AuthAPI struct {
	client *Client
}

// NewAuthAPI creates the auth endpoint wrapper over a gateway client.
func NewAuthAPI(client *Client) (*AuthAPI, error) {
	if client == nil {
		return nil, errors.New("[NewAuthAPI] client is required")
	}
	return &AuthAPI{client: client}, nil
}

func (a *AuthAPI) Login(ctx context.Context, credentials Credentials) (*Envelope, error) {
	return a.client.Post(ctx, PathLogin, credentials)
}

// Logout tells the backend the credential in authHeader is no longer in use. The caller has
// usually cleared the session already, so the credential is passed explicitly and a 401 here
// does not loop back into the session.
func (a *AuthAPI) Logout(ctx context.Context, authHeader string) error {
	_, err := a.client.Post(ctx, PathLogout, nil, WithAuthorization(authHeader), WithoutSessionTeardown())
	return err
}

func (a *AuthAPI) VerifyToken(ctx context.Context) (*Envelope, error) {
	return a.client.Post(ctx, PathVerifyToken, nil)
}

func (a *AuthAPI) CheckUsername(ctx context.Context, username string) (*Envelope, error) {
	return a.client.Post(ctx, PathCheckUsername, map[string]string{"username": username})
}

func (a *AuthAPI) SendVerificationCode(ctx context.Context, email string) (*Envelope, error) {
	return a.client.Post(ctx, PathSendVerificationCode, map[string]string{"email": email})
}

func (a *AuthAPI) Register(ctx context.Context, registration Registration) (*Envelope, error) {
	return a.client.Post(ctx, PathRegister, registration)
}
