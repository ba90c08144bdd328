package ledgercored

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"subledger/crypto"
	"subledger/native/kvstore"
	"subledger/native/spendauth"
	"subledger/native/system/quotas"
	"subledger/storage"
)

const adminTestSecret = "test-admin-secret"

func newTestAdminServer(t *testing.T) *AdminServer {
	t.Helper()
	subStore := spendauth.NewStore(kvstore.New(storage.NewMemDB()))
	authorizer := spendauth.NewAuthorizer(subStore)
	quotaStore := quotas.NewStore(kvstore.New(storage.NewMemDB()))
	return NewAdminServer(authorizer, quotaStore, NewAdminAuth(adminTestSecret))
}

func signTestToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "test-caller",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(adminTestSecret))
	require.NoError(t, err)
	return signed
}

func doAdminRequest(t *testing.T, srv *httptest.Server, route string, body map[string]interface{}) (*http.Response, map[string]string) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/"+route, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signTestToken(t))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestAdminServerRegisterEOARoundTrip(t *testing.T) {
	admin := newTestAdminServer(t)
	srv := httptest.NewServer(admin.Router())
	t.Cleanup(srv.Close)

	avatar := crypto.MustNewAddress(crypto.AvatarPrefix, make([]byte, 20))
	eoaRaw := make([]byte, 20)
	eoaRaw[19] = 1
	eoa := crypto.MustNewAddress(crypto.SubAccountPrefix, eoaRaw)

	resp, decoded := doAdminRequest(t, srv, "register_eoa", map[string]interface{}{
		"avatar": avatar.String(), "eoa": eoa.String(), "daily_limit": "1000", "transfer_types": []uint8{0},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "registered", decoded["status"])
	require.NotEmpty(t, decoded["request_id"])
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	limit, err := admin.authorizer.GetDailyLimit(eoa)
	require.NoError(t, err)
	require.Equal(t, 0, limit.Cmp(big.NewInt(1000)))
}

func TestAdminServerRejectsMissingBearerToken(t *testing.T) {
	admin := newTestAdminServer(t)
	srv := httptest.NewServer(admin.Router())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Post(srv.URL+"/v1/pause", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminServerRegisterEOARejectsUint256Overflow(t *testing.T) {
	admin := newTestAdminServer(t)
	srv := httptest.NewServer(admin.Router())
	t.Cleanup(srv.Close)

	avatar := crypto.MustNewAddress(crypto.AvatarPrefix, make([]byte, 20))
	eoaRaw := make([]byte, 20)
	eoaRaw[19] = 2
	eoa := crypto.MustNewAddress(crypto.SubAccountPrefix, eoaRaw)
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256).String()

	resp, decoded := doAdminRequest(t, srv, "register_eoa", map[string]interface{}{
		"avatar": avatar.String(), "eoa": eoa.String(), "daily_limit": tooLarge, "transfer_types": []uint8{0},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, decoded["error"], "uint256")
}

func TestAdminServerStreamForwardsPushEvents(t *testing.T) {
	admin := newTestAdminServer(t)
	hub := NewEventHub()
	admin.SetEventHub(hub)
	srv := httptest.NewServer(admin.Router())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + signTestToken(t)}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hub.Publish(PushEvent{SubAccount: "abcd", Reason: "balances_changed", Status: "confirmed", Timestamp: 42})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt PushEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, "abcd", evt.SubAccount)
	require.Equal(t, "confirmed", evt.Status)
}

func TestAdminServerHealthzIncludesRequestID(t *testing.T) {
	admin := newTestAdminServer(t)
	srv := httptest.NewServer(admin.Router())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}
