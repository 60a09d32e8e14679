package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/mailsentry-console/credentials"
	"github.com/jrsteele09/mailsentry-console/gateway"
	"github.com/jrsteele09/mailsentry-console/guard"
	"github.com/jrsteele09/mailsentry-console/internal/config"
	"github.com/jrsteele09/mailsentry-console/notify"
	"github.com/jrsteele09/mailsentry-console/realtime"
	"github.com/jrsteele09/mailsentry-console/session"
	"github.com/rs/zerolog/log"
)

const expiryCheckPeriod = time.Minute

var (
	dashboardRoute = guard.Route{Path: "/dashboard", RequiresAuth: true}
	loginRoute     = guard.Route{Path: guard.LoginPath}
)

// console wires the session subsystem together for a headless process.
type console struct {
	cfg       config.Config
	notifier  notify.Notifier
	navigator *guard.MemoryNavigator
	session   *session.Manager
	guard     *guard.Guard
	realtime  *realtime.Client
}

func newConsole(c config.Config) (*console, error) {
	store, err := newCredentialStore(c)
	if err != nil {
		return nil, err
	}

	notifier := notify.LogNotifier{}
	navigator := guard.NewMemoryNavigator(dashboardRoute.Path)

	gw, err := gateway.New(c.GetAPIBaseURL(), c, notifier, navigator)
	if err != nil {
		return nil, err
	}
	authAPI, err := gateway.NewAuthAPI(gw)
	if err != nil {
		return nil, err
	}
	mgr, err := session.NewManager(store, authAPI, notifier, session.WithSessionConfig(c))
	if err != nil {
		return nil, err
	}
	gw.UseSession(mgr)

	ws, err := realtime.NewWebSocketTransport(c.GetRealtimeURL(), c)
	if err != nil {
		return nil, err
	}
	poll, err := realtime.NewPollingTransport(c.GetRealtimePollURL(), c)
	if err != nil {
		return nil, err
	}
	rt, err := realtime.New(c, mgr, realtime.Fallback{ws, poll}, notifier)
	if err != nil {
		return nil, err
	}
	mgr.AddListener(rt)
	subscribeLogging(rt)

	g, err := guard.New(mgr)
	if err != nil {
		return nil, err
	}

	return &console{
		cfg:       c,
		notifier:  notifier,
		navigator: navigator,
		session:   mgr,
		guard:     g,
		realtime:  rt,
	}, nil
}

func newCredentialStore(c config.EnvConfig) (*credentials.FileStore, error) {
	var options []credentials.FileStoreOption
	if encoded := c.GetCredentialKey(); encoded != "" {
		key, err := credentials.ParseSealingKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("credential key: %w", err)
		}
		options = append(options, credentials.WithSealingKey(key))
	}
	return credentials.NewFileStore(c.GetCredentialFile(), options...)
}

// start restores or establishes a session, enters the dashboard and watches for expiry.
func (a *console) start(ctx context.Context) {
	if !a.session.InitAuth(ctx) {
		log.Info().Msg("no restorable session")
	}

	a.enter(ctx, dashboardRoute, a.navigator.CurrentPath())
	if a.navigator.CurrentPath() != dashboardRoute.Path {
		a.loginFromEnv(ctx)
	}

	go a.watchExpiry(ctx)
}

func (a *console) enter(ctx context.Context, route guard.Route, fullPath string) {
	decision := a.guard.Check(ctx, route, fullPath)
	if !decision.Allow {
		log.Info().Str("path", fullPath).Str("redirect", decision.Redirect).Msg("route requires login")
		a.navigator.Navigate(decision.Redirect)
		return
	}
	a.navigator.Navigate(fullPath)
}

func (a *console) loginFromEnv(ctx context.Context) {
	username := a.cfg.GetUsername()
	if username == "" {
		log.Warn().Msg("not logged in and no CONSOLE_USERNAME set, realtime channel stays closed")
		return
	}

	principal, err := a.session.Login(ctx, gateway.Credentials{Username: username, Password: a.cfg.GetPassword()})
	if err != nil {
		a.enter(ctx, loginRoute, guard.LoginPath)
		return
	}
	log.Info().
		Str("user", principal.DisplayName()).
		Interface("handles", principal.Handles()).
		Msg("session established")
	a.enter(ctx, dashboardRoute, dashboardRoute.Path)
}

func (a *console) watchExpiry(ctx context.Context) {
	ticker := time.NewTicker(expiryCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.session.IsAuthenticated() || !a.session.CheckExpiry() {
				continue
			}
			msg := "session expires soon, please log in again"
			if exp, err := a.session.ExpiresAt(); err == nil {
				msg = fmt.Sprintf("session expires at %s, please log in again", exp.Local().Format(time.Kitchen))
			}
			a.notifier.Notify(notify.Warning(msg))
		}
	}
}

func (a *console) close() {
	a.realtime.Close()
}

func subscribeLogging(rt *realtime.Client) {
	for _, t := range []realtime.MessageType{
		realtime.TypeNewEmails,
		realtime.TypeNewEmailNotification,
		realtime.TypeDetectionCompleted,
		realtime.TypeDetectionTaskCompleted,
	} {
		rt.Subscribe(t, logMessage)
	}
}

func logMessage(m realtime.Message) error {
	var payload map[string]any
	if err := m.Decode(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	log.Info().
		Str("type", string(m.Type)).
		Time("sent_at", m.Timestamp).
		Interface("data", payload).
		Msg("realtime message")
	return nil
}
