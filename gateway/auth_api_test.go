package gateway_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jrsteele09/mailsentry-console/gateway"
	"github.com/stretchr/testify/require"
)

func TestNewAuthAPI_RequiresClient(t *testing.T) {
	_, err := gateway.NewAuthAPI(nil)
	require.Error(t, err)
}

func TestAuthAPI_Endpoints(t *testing.T) {
	f := setupTestFixture(t, respond(http.StatusOK, `{"success":true,"message":"ok"}`))
	api, err := gateway.NewAuthAPI(f.client)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = api.Login(ctx, gateway.Credentials{Username: "alice@example.com", Password: "s3cret"})
	require.NoError(t, err)
	_, err = api.VerifyToken(ctx)
	require.NoError(t, err)
	_, err = api.CheckUsername(ctx, "alice")
	require.NoError(t, err)
	_, err = api.SendVerificationCode(ctx, "alice@example.com")
	require.NoError(t, err)
	_, err = api.Register(ctx, gateway.Registration{Username: "alice", Email: "alice@example.com", Password: "s3cret", VerificationCode: "123456"})
	require.NoError(t, err)
	require.NoError(t, api.Logout(ctx, "Bearer "+testToken))

	reqs := f.backend.Requests()
	require.Len(t, reqs, 6)
	want := []struct {
		path string
		body string
	}{
		{path: "/api/auth/login", body: `{"username":"alice@example.com","password":"s3cret"}`},
		{path: "/api/auth/verify-token"},
		{path: "/api/auth/check-username", body: `{"username":"alice"}`},
		{path: "/api/auth/send-verification-code", body: `{"email":"alice@example.com"}`},
		{path: "/api/auth/register", body: `{"username":"alice","email":"alice@example.com","password":"s3cret","verification_code":"123456"}`},
		{path: "/api/auth/logout"},
	}
	for i, w := range want {
		require.Equal(t, http.MethodPost, reqs[i].Method)
		require.Equal(t, w.path, reqs[i].Path)
		if w.body == "" {
			require.Empty(t, reqs[i].Body)
		} else {
			require.JSONEq(t, w.body, reqs[i].Body)
		}
	}
	require.Equal(t, "Bearer "+testToken, reqs[5].Header.Get("Authorization"))
}

func TestAuthAPI_LogoutRejectedDoesNotTearDown(t *testing.T) {
	f := setupTestFixture(t, respond(http.StatusUnauthorized, `{"success":false}`))
	sess := &staticSession{header: "Bearer " + testToken}
	f.client.UseSession(sess)
	api, err := gateway.NewAuthAPI(f.client)
	require.NoError(t, err)

	err = api.Logout(context.Background(), "Bearer stale")

	require.ErrorIs(t, err, gateway.ErrUnauthorized)
	require.Zero(t, sess.logouts)
	require.Empty(t, f.navigator.History())
	require.Equal(t, "Bearer stale", f.backend.Requests()[0].Header.Get("Authorization"))
}
