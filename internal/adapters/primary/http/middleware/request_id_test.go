package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRequestID(t *testing.T, inbound string) (string, string) {
	t.Helper()

	var fromContext string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return fromContext, rec.Header().Get(RequestIDHeader)
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	fromContext, fromHeader := runRequestID(t, "")

	require.NotEmpty(t, fromContext)
	assert.Equal(t, fromContext, fromHeader)

	_, err := uuid.Parse(fromContext)
	assert.NoError(t, err)
}

func TestRequestID_HonorsValidInboundID(t *testing.T) {
	inbound := uuid.NewString()
	fromContext, fromHeader := runRequestID(t, inbound)

	assert.Equal(t, inbound, fromContext)
	assert.Equal(t, inbound, fromHeader)
}

func TestRequestID_ReplacesInvalidInboundID(t *testing.T) {
	fromContext, fromHeader := runRequestID(t, `not-a-uuid"\ninjected`)

	require.NotEmpty(t, fromContext)
	assert.NotContains(t, fromContext, "injected")
	assert.Equal(t, fromContext, fromHeader)

	_, err := uuid.Parse(fromContext)
	assert.NoError(t, err)
}
