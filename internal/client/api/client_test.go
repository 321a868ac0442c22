package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offlinesync/internal/client/sync/syncerr"
	"github.com/iudanet/offlinesync/pkg/api"
)

type staticToken string

func (s staticToken) AccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}

type failingToken struct{}

func (failingToken) AccessToken(ctx context.Context) (string, error) {
	return "", errors.New("no session")
}

// TestNewClient проверяет создание нового клиента
func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	client := NewClient(baseURL)

	assert.NotNil(t, client)
	assert.Equal(t, baseURL, client.baseURL)
	assert.NotNil(t, client.httpClient)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
	assert.False(t, client.Authenticated())

	custom := &http.Client{Timeout: time.Second}
	client = NewClient(baseURL, WithHTTPClient(custom), WithPollWait(time.Second))
	assert.Same(t, custom, client.httpClient)
	assert.Equal(t, time.Second, client.pollWait)
}

func TestClient_WithTokenSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok"})
	}))
	defer server.Close()

	anon := NewClient(server.URL)
	authed := anon.WithTokenSource(staticToken("secret"))

	assert.False(t, anon.Authenticated())
	assert.True(t, authed.Authenticated())
	require.NoError(t, authed.Health(context.Background()))
}

func TestClient_TokenSourceError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1").WithTokenSource(failingToken{})

	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session")
}

// TestClient_Register проверяет успешную регистрацию
func TestClient_Register(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/register", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "testuser", req.Username)
		assert.Equal(t, "long-password-123", req.Password)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.RegisterResponse{UserID: "user-123", Message: "Registration successful"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.Register(context.Background(), api.RegisterRequest{
		Username: "testuser",
		Password: "long-password-123",
	})

	require.NoError(t, err)
	assert.Equal(t, "user-123", resp.UserID)
	assert.Equal(t, "Registration successful", resp.Message)
}

func TestClient_LoginAndRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var req api.LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Password != "correct-password" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "invalid credentials"})
				return
			}
			_ = json.NewEncoder(w).Encode(api.TokenResponse{AccessToken: "a1", RefreshToken: "r1", ExpiresIn: 900})
		case "/api/v1/auth/refresh":
			var req api.RefreshRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "r1", req.RefreshToken)
			_ = json.NewEncoder(w).Encode(api.TokenResponse{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 900})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	tokens, err := client.Login(ctx, api.LoginRequest{Username: "u", Password: "correct-password"})
	require.NoError(t, err)
	assert.Equal(t, "a1", tokens.AccessToken)

	_, err = client.Login(ctx, api.LoginRequest{Username: "u", Password: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrUnauthorized)
	assert.Contains(t, err.Error(), "invalid credentials")

	tokens, err = client.Refresh(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", tokens.AccessToken)
	assert.Equal(t, "r2", tokens.RefreshToken)
}

func TestStatusError_Mapping(t *testing.T) {
	tests := []struct {
		header     map[string]string
		name       string
		body       string
		status     int
		wantClass  syncerr.Class
		retryAfter time.Duration
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"bad token"}`, wantClass: syncerr.ClassUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, wantClass: syncerr.ClassUnauthorized},
		{
			name:       "throttled with hint",
			status:     http.StatusTooManyRequests,
			header:     map[string]string{"Retry-After": "3"},
			wantClass:  syncerr.ClassTransient,
			retryAfter: 3 * time.Second,
		},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantClass: syncerr.ClassTransient},
		{name: "internal", status: http.StatusInternalServerError, wantClass: syncerr.ClassTransient},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"invalid"}`, wantClass: syncerr.ClassPermanent},
		{name: "not found", status: http.StatusNotFound, wantClass: syncerr.ClassPermanent},
		{
			name:      "conflict",
			status:    http.StatusConflict,
			body:      `{"error":"version conflict","record":{"id":"r1","model_name":"note","version":4}}`,
			wantClass: syncerr.ClassConflict,
		},
		{name: "conflict without record", status: http.StatusConflict, body: `{}`, wantClass: syncerr.ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			for k, v := range tt.header {
				resp.Header.Set(k, v)
			}

			err := statusError(resp, []byte(tt.body))

			require.Error(t, err)
			assert.Equal(t, tt.wantClass, syncerr.Classify(err))

			d, ok := syncerr.RetryAfter(err)
			assert.Equal(t, tt.retryAfter > 0, ok)
			assert.Equal(t, tt.retryAfter, d)
		})
	}
}

func TestStatusError_ConflictCarriesRecord(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusConflict, Header: http.Header{}}
	body := `{"error":"version conflict","record":{"id":"r1","model_name":"note","payload":{"a":1},"version":4,"deleted":true}}`

	err := statusError(resp, []byte(body))

	var conflict *syncerr.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "r1", conflict.Remote.ID())
	assert.Equal(t, int64(4), conflict.Remote.SyncMetadata.Version)
	assert.True(t, conflict.Remote.SyncMetadata.Deleted)
	assert.JSONEq(t, `{"a":1}`, string(conflict.Remote.Model.Payload))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, retryAfterSeconds(""))
	assert.Equal(t, 12, retryAfterSeconds("12"))
	assert.Equal(t, 0, retryAfterSeconds("soon"))

	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	assert.InDelta(t, 10, retryAfterSeconds(future), 2)
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewClient(url).Health(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrNetworkUnavailable)
	assert.True(t, syncerr.IsRetryable(err))
}

func TestClient_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewClient(server.URL).Health(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, syncerr.ClassCanceled, syncerr.Classify(err))
}
