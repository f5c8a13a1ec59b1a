//go:build integration

package app_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/signal-relay/internal/testutil"
)

type engineStatus struct {
	Running  bool   `json:"running"`
	Mode     string `json:"mode"`
	Channels []struct {
		ChannelID string `json:"channel_id"`
		Cursor    int64  `json:"cursor"`
	} `json:"channels"`
}

type notification struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Body            string `json:"body"`
	SourceMessageID *int64 `json:"source_message_id"`
	Read            bool   `json:"read"`
}

func TestRelayFlow_ProxiedThenDirect(t *testing.T) {
	admin := newAdmin(t, "flow-admin")
	user := newClient(t, "flow-user")
	ensureUser(t, user)

	const chatID = -1001
	botAPI.join(chatID, "market signals")

	t.Cleanup(func() {
		resp, err := admin.POST("/api/v1/admin/poller/stop", nil)
		if err == nil {
			_ = resp.Body.Close()
		}
		setTelegramSettings(t, admin, true, true)
	})

	discover(t, admin)
	activate(t, admin, "-1001")

	resp, err := user.POST("/api/v1/channels/-1001/subscription", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sub struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &sub)
	assert.Equal(t, "subscribed", sub.Data.Status)

	botAPI.post(chatID, 1, "buy BTC at 61000")
	botAPI.post(chatID, 2, "take profit 64000")

	status := pollerCommand(t, admin, "start")
	assert.True(t, status.Running)
	assert.Equal(t, "proxied", status.Mode)

	require.Eventually(t, func() bool {
		return len(listNotifications(t, user)) == 2
	}, 10*time.Second, 100*time.Millisecond)

	setTelegramSettings(t, admin, true, false)
	status = pollerCommand(t, admin, "restart")
	assert.Equal(t, "direct", status.Mode)

	botAPI.post(chatID, 3, "close all positions")

	require.Eventually(t, func() bool {
		return len(listNotifications(t, user)) == 3
	}, 10*time.Second, 100*time.Millisecond)

	// A fresh direct client replays the whole feed; the stored cursor must hold.
	time.Sleep(500 * time.Millisecond)
	items := listNotifications(t, user)
	require.Len(t, items, 3)

	seen := make(map[int64]bool)
	for _, n := range items {
		require.NotNil(t, n.SourceMessageID)
		assert.False(t, seen[*n.SourceMessageID], "duplicate notification for message %d", *n.SourceMessageID)
		seen[*n.SourceMessageID] = true
		assert.Equal(t, "Market Signals", n.Title)
	}

	resp, err = user.GET("/api/v1/me/notifications/unread-count")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var unread struct {
		Data struct {
			Unread int `json:"unread"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &unread)
	assert.Equal(t, 3, unread.Data.Unread)

	status = pollerCommand(t, admin, "status")
	require.Len(t, status.Channels, 1)
	assert.Equal(t, int64(3), status.Channels[0].Cursor)
}

func TestRelayFlow_UnsubscribedUserGetsNothing(t *testing.T) {
	admin := newAdmin(t, "quiet-admin")
	bystander := newClient(t, "quiet-user")
	ensureUser(t, bystander)

	const chatID = -1003
	botAPI.join(chatID, "quiet channel")
	discover(t, admin)
	activate(t, admin, "-1003")
	botAPI.post(chatID, 10, "nobody listens")

	t.Cleanup(func() {
		resp, err := admin.POST("/api/v1/admin/poller/stop", nil)
		if err == nil {
			_ = resp.Body.Close()
		}
	})

	pollerCommand(t, admin, "start")

	require.Eventually(t, func() bool {
		st := pollerCommand(t, admin, "status")
		for _, ch := range st.Channels {
			if ch.ChannelID == "-1003" && ch.Cursor == 10 {
				return true
			}
		}
		return false
	}, 10*time.Second, 100*time.Millisecond)

	assert.Empty(t, listNotifications(t, bystander))
}

func TestPaidSubscription(t *testing.T) {
	admin := newAdmin(t, "paid-admin")
	user := newClient(t, "paid-user")
	ensureUser(t, user)

	const chatID = -1002
	botAPI.join(chatID, "premium calls")
	discover(t, admin)
	activate(t, admin, "-1002")

	resp, err := admin.PUT("/api/v1/admin/channels/-1002/terms", map[string]any{
		"subscription_type":  "paid",
		"subscription_price": "9.99",
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	_ = resp.Body.Close()

	resp, err = user.POST("/api/v1/channels/-1002/subscription", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	var payment struct {
		Data struct {
			Status string `json:"status"`
			Price  string `json:"price"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &payment)
	assert.Equal(t, "payment_required", payment.Data.Status)
	assert.Equal(t, "9.99", payment.Data.Price)

	resp, err = user.POST("/api/v1/admin/subscriptions/confirm", map[string]string{
		"user_id": "paid-user", "channel_id": "-1002",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = admin.POST("/api/v1/admin/subscriptions/confirm", map[string]string{
		"user_id": "paid-user", "channel_id": "-1002",
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	_ = resp.Body.Close()

	resp, err = user.GET("/api/v1/me/subscriptions")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var subs struct {
		Data []struct {
			ChannelID string `json:"channel_id"`
			Tier      string `json:"tier"`
			Active    bool   `json:"active"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &subs)
	require.Len(t, subs.Data, 1)
	assert.Equal(t, "-1002", subs.Data[0].ChannelID)
	assert.Equal(t, "paid", subs.Data[0].Tier)
	assert.True(t, subs.Data[0].Active)

	resp, err = admin.GET("/api/v1/admin/audit-log?action=CONFIRM_SUBSCRIPTION")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries struct {
		Data []struct {
			ActorUID     string  `json:"actor_uid"`
			Action       string  `json:"action"`
			TargetUserID *string `json:"target_user_id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &entries)
	require.NotEmpty(t, entries.Data)
	assert.Equal(t, "paid-admin", entries.Data[0].ActorUID)
	require.NotNil(t, entries.Data[0].TargetUserID)
	assert.Equal(t, "paid-user", *entries.Data[0].TargetUserID)

	// the channel turns free; subscribing again must not downgrade the paid record
	resp, err = admin.PUT("/api/v1/admin/channels/-1002/terms", map[string]any{
		"subscription_type": "free",
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	_ = resp.Body.Close()

	resp, err = user.POST("/api/v1/channels/-1002/subscription", nil)
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	var again struct {
		Data struct {
			Status       string `json:"status"`
			Subscription struct {
				Tier string `json:"tier"`
			} `json:"subscription"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &again)
	assert.Equal(t, "subscribed", again.Data.Status)
	assert.Equal(t, "paid", again.Data.Subscription.Tier)
}

func TestAccessControl(t *testing.T) {
	anon := testutil.NewClientWithValidator(testServer.URL, testValidator)
	anon.SetT(t)
	user := newClient(t, "plain-user")

	tests := []struct {
		name   string
		client *testutil.Client
		method string
		path   string
		want   int
	}{
		{"anonymous me", anon, http.MethodGet, "/api/v1/me", http.StatusUnauthorized},
		{"anonymous channels", anon, http.MethodGet, "/api/v1/channels", http.StatusUnauthorized},
		{"user settings", user, http.MethodGet, "/api/v1/admin/settings", http.StatusForbidden},
		{"user poller", user, http.MethodPost, "/api/v1/admin/poller/start", http.StatusForbidden},
		{"user relay", user, http.MethodPost, "/api/v1/telegram/proxy", http.StatusForbidden},
		{"user channels", user, http.MethodGet, "/api/v1/channels", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				resp *http.Response
				err  error
			)
			if tt.method == http.MethodGet {
				resp, err = tt.client.GET(tt.path)
			} else {
				resp, err = tt.client.POST(tt.path, map[string]any{})
			}
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRelay_EndpointAllowList(t *testing.T) {
	admin := newAdmin(t, "relay-admin")

	resp, err := admin.POST("/api/v1/telegram/proxy", map[string]any{
		"endpoint": "sendMessage",
		"params":   map[string]any{"chat_id": 1, "text": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = admin.POST("/api/v1/telegram/proxy", map[string]any{"endpoint": "getMe"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env struct {
		Success bool `json:"success"`
		Status  int  `json:"status"`
	}
	testutil.DecodeJSON(t, resp, &env)
	assert.True(t, env.Success)
	assert.Equal(t, http.StatusOK, env.Status)
}

func TestPoller_StartWhenDisabled(t *testing.T) {
	admin := newAdmin(t, "disabled-admin")
	setTelegramSettings(t, admin, false, true)
	t.Cleanup(func() { setTelegramSettings(t, admin, true, true) })

	resp, err := admin.POST("/api/v1/admin/poller/start", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func discover(t *testing.T, admin *testutil.Client) {
	t.Helper()
	resp, err := admin.POST("/api/v1/admin/channels/discover", nil)
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	_ = resp.Body.Close()
}

func activate(t *testing.T, admin *testutil.Client, channelID string) {
	t.Helper()
	resp, err := admin.PATCH("/api/v1/admin/channels/"+channelID+"/active", map[string]bool{"active": true})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	_ = resp.Body.Close()
}

func setTelegramSettings(t *testing.T, admin *testutil.Client, enabled, useProxy bool) {
	t.Helper()
	resp, err := admin.PUT("/api/v1/admin/settings", map[string]any{
		"telegram": map[string]bool{"enabled": enabled, "use_proxy": useProxy},
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	_ = resp.Body.Close()
}

func pollerCommand(t *testing.T, admin *testutil.Client, cmd string) engineStatus {
	t.Helper()
	var (
		resp *http.Response
		err  error
	)
	if cmd == "status" {
		resp, err = admin.GET("/api/v1/admin/poller/status")
	} else {
		resp, err = admin.POST("/api/v1/admin/poller/"+cmd, nil)
	}
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)

	var out struct {
		Data engineStatus `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &out)
	return out.Data
}

func listNotifications(t *testing.T, c *testutil.Client) []notification {
	t.Helper()
	resp, err := c.GET("/api/v1/me/notifications")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data []notification `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &out)
	return out.Data
}

// requireStatus fails with the response body when the status does not match.
func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, testutil.ReadBody(t, resp))
	}
}
