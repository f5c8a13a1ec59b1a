package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/bissquit/signal-relay/internal/transport"
	"github.com/bissquit/signal-relay/internal/transport/proxy"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	status    int
	body      string
	err       error
	endpoints []string
}

func (f *fakeUpstream) Do(_ context.Context, method string, _ map[string]any) (int, []byte, error) {
	f.endpoints = append(f.endpoints, method)
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.status, []byte(f.body), nil
}

type tokenUsers map[string]*domain.User

func (t tokenUsers) ValidateToken(_ context.Context, token string) (*domain.User, error) {
	if u, ok := t[token]; ok {
		return u, nil
	}
	return nil, errors.New("invalid token")
}

var users = tokenUsers{
	"admin-token": {ID: "a1", Email: "admin@example.com", Role: domain.RoleAdmin},
	"user-token":  {ID: "u1", Email: "user@example.com", Role: domain.RoleUser},
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(users))
		r.Use(httputil.RequireRole(domain.RoleAdmin))
		h.RegisterRoutes(r)
	})
	return r
}

func doForward(t *testing.T, router http.Handler, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/telegram/proxy", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Forward_Authorization(t *testing.T) {
	upstream := &fakeUpstream{status: 200, body: `{"ok":true,"result":{}}`}
	router := newRouter(NewHandler(upstream, 0))
	body := `{"method":"POST","endpoint":"getMe"}`

	assert.Equal(t, http.StatusUnauthorized, doForward(t, router, "", body).Code)
	assert.Equal(t, http.StatusForbidden, doForward(t, router, "user-token", body).Code)
	assert.Empty(t, upstream.endpoints)

	assert.Equal(t, http.StatusOK, doForward(t, router, "admin-token", body).Code)
	assert.Equal(t, []string{"getMe"}, upstream.endpoints)
}

func TestHandler_Forward(t *testing.T) {
	tests := []struct {
		name        string
		upstream    *fakeUpstream
		body        string
		wantStatus  int
		wantSuccess bool
		wantInner   int
	}{
		{
			name:        "allowed endpoint",
			upstream:    &fakeUpstream{status: 200, body: `{"ok":true,"result":[]}`},
			body:        `{"method":"POST","endpoint":"getUpdates","params":{"offset":1}}`,
			wantStatus:  http.StatusOK,
			wantSuccess: true,
			wantInner:   200,
		},
		{
			name:       "endpoint not allowed",
			upstream:   &fakeUpstream{status: 200, body: `{}`},
			body:       `{"method":"POST","endpoint":"sendMessage"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing endpoint",
			upstream:   &fakeUpstream{status: 200, body: `{}`},
			body:       `{"method":"POST"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "upstream rejected",
			upstream:   &fakeUpstream{status: 400, body: `{"ok":false,"error_code":400,"description":"chat not found"}`},
			body:       `{"endpoint":"getChat","params":{"chat_id":1}}`,
			wantStatus: http.StatusOK,
			wantInner:  400,
		},
		{
			name:       "upstream unreachable",
			upstream:   &fakeUpstream{err: errors.New("dial tcp: timeout")},
			body:       `{"endpoint":"getChat"}`,
			wantStatus: http.StatusBadGateway,
			wantInner:  502,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doForward(t, newRouter(NewHandler(tt.upstream, 0)), "admin-token", tt.body)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantInner == 0 {
				return
			}
			var env Envelope
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
			assert.Equal(t, tt.wantSuccess, env.Success)
			assert.Equal(t, tt.wantInner, env.Status)
		})
	}
}

func TestHandler_Forward_Throttled(t *testing.T) {
	upstream := &fakeUpstream{status: 200, body: `{"ok":true,"result":true}`}
	router := newRouter(NewHandler(upstream, 1))
	body := `{"endpoint":"getMe"}`

	assert.Equal(t, http.StatusOK, doForward(t, router, "admin-token", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, doForward(t, router, "admin-token", body).Code)
	assert.Len(t, upstream.endpoints, 1)
}

// The proxied caller and the relay speak the same envelope.
func TestRelay_RoundTripWithProxyCaller(t *testing.T) {
	upstream := &fakeUpstream{status: 200, body: `{"ok":true,"result":{"id":-1001,"type":"channel","title":"Signals"}}`}
	server := httptest.NewServer(newRouter(NewHandler(upstream, 0)))
	defer server.Close()

	admin, err := proxy.NewCaller(proxy.Config{URL: server.URL + "/telegram/proxy"}, proxy.StaticToken("admin-token"))
	require.NoError(t, err)

	raw, err := admin.Call(context.Background(), "getChat", map[string]any{"chat_id": -1001})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":-1001,"type":"channel","title":"Signals"}`, string(raw))

	nonAdmin, err := proxy.NewCaller(proxy.Config{URL: server.URL + "/telegram/proxy"}, proxy.StaticToken("user-token"))
	require.NoError(t, err)

	_, err = nonAdmin.Call(context.Background(), "getChat", map[string]any{"chat_id": -1001})
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
}
