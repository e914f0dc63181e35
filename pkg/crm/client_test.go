package crm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "integration-secret"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, Secret: testSecret, Timeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return client
}

func TestPostSendsAuthenticatedRequest(t *testing.T) {
	var gotAuth, gotTenant, gotPath string
	var gotBody map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTenant = r.Header.Get(TenantHeader)
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"customer":{"id":"crm-1"}}`))
	})

	resp, err := client.Post(context.Background(), "tenant-1", CustomerPath, map[string]string{"email": "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "crm-1", resp.RemoteID("customer"))

	assert.Equal(t, CustomerPath, gotPath)
	assert.Equal(t, "tenant-1", gotTenant)
	assert.Equal(t, "a@x.com", gotBody["email"])

	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	token, err := jwt.Parse(strings.TrimPrefix(gotAuth, "Bearer "), func(tok *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "ayende-pos", claims["iss"])
	assert.Equal(t, "system-to-system", claims["sub"])
	assert.Equal(t, "tenant-1", claims["tenantId"])
	assert.Equal(t, "integration", claims["scope"])
	assert.Equal(t, "pos", claims["source"])

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), exp.Time, 5*time.Second)
}

func TestPostStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		temporary bool
	}{
		{name: "server error", status: http.StatusInternalServerError, temporary: true},
		{name: "bad gateway", status: http.StatusBadGateway, temporary: true},
		{name: "request timeout", status: http.StatusRequestTimeout, temporary: true},
		{name: "rate limited", status: http.StatusTooManyRequests, temporary: true},
		{name: "bad request", status: http.StatusBadRequest, temporary: false},
		{name: "unauthorized", status: http.StatusUnauthorized, temporary: false},
		{name: "accepted is not success", status: http.StatusAccepted, temporary: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			})

			_, err := client.Post(context.Background(), "tenant-1", TransactionPath, map[string]string{})
			require.Error(t, err)

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, tt.temporary, statusErr.Temporary())
			assert.Equal(t, !tt.temporary, IsPermanent(err))
		})
	}
}

func TestPostWithoutSecret(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:0"}, nil)
	require.NoError(t, err)

	_, err = client.Post(context.Background(), "tenant-1", CustomerPath, map[string]string{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 5; i++ {
		_, err := client.Post(context.Background(), "tenant-1", CustomerPath, map[string]string{})
		require.Error(t, err)
	}
	_, err := client.Post(context.Background(), "tenant-1", CustomerPath, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm unavailable")
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 5, calls)
}

func TestRejectionsDoNotOpenBreaker(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	for i := 0; i < 7; i++ {
		_, err := client.Post(context.Background(), "tenant-1", CustomerPath, map[string]string{})
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
	}
	assert.Equal(t, 7, calls)
}

func TestRemoteID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "keyed", body: `{"customer":{"id":"crm-1"}}`, want: "crm-1"},
		{name: "data envelope", body: `{"success":true,"data":{"id":"crm-2"}}`, want: "crm-2"},
		{name: "top level", body: `{"id":"crm-3"}`, want: "crm-3"},
		{name: "numeric", body: `{"data":{"id":42}}`, want: "42"},
		{name: "absent", body: `{"success":true}`, want: ""},
		{name: "not json", body: `ok`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{StatusCode: 200, Body: []byte(tt.body)}
			assert.Equal(t, tt.want, resp.RemoteID("customer"))
		})
	}
}

func TestHealth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HealthPath, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	result := client.Health(context.Background())
	assert.True(t, result.OK)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(result.Data))
}

func TestHealthDown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	result := client.Health(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	assert.NotEmpty(t, result.Error)
}
