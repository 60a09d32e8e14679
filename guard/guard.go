// Package guard decides whether a navigable view may be entered with the current session.
package guard

import (
	"context"
	"errors"
	"net/url"
	"sync"
)

// LoginPath is the view unauthenticated users are sent to.
const LoginPath = "/login"

// LoginRedirect returns the login path carrying returnPath so the user lands back where they
// were after logging in.
func LoginRedirect(returnPath string) string {
	if returnPath == "" || returnPath == LoginPath {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{"redirect": {returnPath}}.Encode()
}

// Route is a navigable view.
type Route struct {
	Path         string
	RequiresAuth bool
}

// Authenticator is the part of the session manager a guard consults.
type Authenticator interface {
	IsAuthenticated() bool
	VerifyToken(ctx context.Context) bool
}

// Decision is the outcome of a guard check. Redirect is set when Allow is false.
type Decision struct {
	Allow    bool
	Redirect string
}

// Guard checks routes against the session before they are entered.
type Guard struct {
	auth Authenticator
}

func New(auth Authenticator) (*Guard, error) {
	if auth == nil {
		return nil, errors.New("[guard.New] authenticator is required")
	}
	return &Guard{auth: auth}, nil
}

// Check allows public routes outright. Protected routes need an authenticated session whose
// credential the backend still accepts; otherwise the decision redirects to login, preserving
// fullPath.
func (g *Guard) Check(ctx context.Context, route Route, fullPath string) Decision {
	if !route.RequiresAuth {
		return Decision{Allow: true}
	}
	if fullPath == "" {
		fullPath = route.Path
	}
	if !g.auth.IsAuthenticated() || !g.auth.VerifyToken(ctx) {
		return Decision{Redirect: LoginRedirect(fullPath)}
	}
	return Decision{Allow: true}
}

// MemoryNavigator tracks the current path for a process without a real router. It records
// every navigation so callers can inspect where the user was sent.
type MemoryNavigator struct {
	mu      sync.RWMutex
	current string
	history []string
}

// NewMemoryNavigator starts at path.
func NewMemoryNavigator(path string) *MemoryNavigator {
	return &MemoryNavigator{current: path}
}

func (n *MemoryNavigator) CurrentPath() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}

func (n *MemoryNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = path
	n.history = append(n.history, path)
}

// History returns every path navigated to, oldest first.
func (n *MemoryNavigator) History() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.history))
	copy(out, n.history)
	return out
}
