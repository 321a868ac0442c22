package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		handler  http.HandlerFunc
		name     string
		wantCode int
		wantLog  bool
	}{
		{
			name: "normal handler",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("success"))
			},
			wantCode: http.StatusOK,
		},
		{
			name:     "panic with string",
			handler:  func(http.ResponseWriter, *http.Request) { panic("something went wrong") },
			wantCode: http.StatusInternalServerError,
			wantLog:  true,
		},
		{
			name:     "panic with custom type",
			handler:  func(http.ResponseWriter, *http.Request) { panic(struct{ msg string }{"critical error"}) },
			wantCode: http.StatusInternalServerError,
			wantLog:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			handler := RecoveryMiddleware(logger)(tt.handler)
			w := httptest.NewRecorder()
			require.NotPanics(t, func() {
				handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
			})

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantLog {
				assert.Contains(t, buf.String(), "Panic recovered")
				assert.Contains(t, buf.String(), "stack=")
				assert.Contains(t, w.Body.String(), "internal server error")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestRecoveryMiddleware_AbortHandler(t *testing.T) {
	handler := RecoveryMiddleware(setupTestLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	})
}
