package session_test

import (
	"encoding/json"
	"testing"

	"github.com/jrsteele09/mailsentry-console/internal/utils"
	"github.com/jrsteele09/mailsentry-console/session"
	"github.com/stretchr/testify/require"
)

func TestPrincipal_DecodesBackendProfile(t *testing.T) {
	raw := `{"id":12,"username":"","email":"bob@example.com","github":"bobdev","wechat":null,
		"registration_method":"email","created_at":"2025-11-02T08:15:00","is_activated":true}`

	var p session.Principal
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	require.Equal(t, int64(12), p.ID)
	require.Equal(t, "bob@example.com", p.DisplayName())
	require.Equal(t, map[string]string{"github": "bobdev"}, p.Handles())
	require.Equal(t, "2025-11-02T08:15:00", utils.Value(p.CreatedAt))
	require.Nil(t, p.UpdatedAt)
	require.True(t, p.IsActivated)
}

func TestPrincipal_DisplayNamePrefersUsername(t *testing.T) {
	p := session.Principal{Username: "alice", Email: "alice@example.com", Wechat: utils.Ptr("alice_wx")}

	require.Equal(t, "alice", p.DisplayName())
	require.Equal(t, map[string]string{"wechat": "alice_wx"}, p.Handles())
}
