package ledgercored

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	nativecommon "subledger/native/common"
	"subledger/crypto"
	"subledger/native/spendauth"
	"subledger/native/system/quotas"
	"subledger/observability"
)

// AdminAuth validates the admin API's bearer JWTs, grounded on
// gateway/middleware/auth.go's HMAC-secret/claims pattern. The admin CLI
// signs its own token with the same shared secret rather than a separate
// issuer, since this surface has a single trusted operator population.
type AdminAuth struct {
	secret []byte
}

// NewAdminAuth constructs an AdminAuth from the configured bearer secret.
func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(strings.TrimSpace(secret))}
}

// callerIDKey is the context key the auth middleware stores the JWT
// subject under, used downstream for quota bookkeeping.
type callerIDKey struct{}

// Middleware rejects requests without a valid bearer JWT and stashes the
// token subject (caller ID) on the request context.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			http.Error(w, "admin auth not configured", http.StatusServiceUnavailable)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := a.parse(tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			http.Error(w, "token missing subject", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), callerIDKey{}, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AdminAuth) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(2*time.Minute))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func callerID(ctx context.Context) string {
	sub, _ := ctx.Value(callerIDKey{}).(string)
	return sub
}

// requestIDKey is the context key the requestID middleware stashes each
// inbound admin request's generated identifier under, used to correlate a
// client-visible response with the structured log lines it produced.
type requestIDKey struct{}

// requestID assigns every admin request a fresh UUID, echoed back in the
// X-Request-Id response header and every JSON response body so an operator
// can correlate a CLI invocation with ledgercored's logs.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// adminQuota rate-limits each caller on the Owner-only operations (spec
// §4.1's register_eoa/revoke_eoa/update_limit/update_allowed_types/
// pause/unpause), backed by the repurposed native/system/quotas store.
var adminQuota = nativecommon.Quota{MaxRequestsPerMin: 30, EpochSeconds: 60}

// AdminServer exposes the Owner-only Spend Authorizer operations over HTTP,
// fronted by bearer-JWT auth and a per-caller request quota.
type AdminServer struct {
	authorizer *spendauth.Authorizer
	quotas     *quotas.Store
	auth       *AdminAuth
	hub        *EventHub
}

// NewAdminServer constructs the admin HTTP handler.
func NewAdminServer(authorizer *spendauth.Authorizer, quotaStore *quotas.Store, auth *AdminAuth) *AdminServer {
	return &AdminServer{authorizer: authorizer, quotas: quotaStore, auth: auth}
}

// SetEventHub attaches the hub powering the /v1/stream websocket endpoint.
// Nil disables the endpoint's output (it serves an empty stream).
func (s *AdminServer) SetEventHub(hub *EventHub) {
	s.hub = hub
}

// Router builds the chi router for the admin API plus health/metrics
// endpoints.
func (s *AdminServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", s.handleHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(s.rateLimit)
		r.Post("/register_eoa", s.handleRegisterEOA)
		r.Post("/revoke_eoa", s.handleRevokeEOA)
		r.Post("/update_limit", s.handleUpdateLimit)
		r.Post("/update_allowed_types", s.handleUpdateAllowedTypes)
		r.Post("/pause", s.handlePause)
		r.Post("/unpause", s.handleUnpause)
		r.Get("/stream", s.handleStream)
	})
	return r
}

// handleStream upgrades to a websocket and forwards PushEvents to the
// caller as they're published, grounded on rpc/ws.go's finality-subscribe
// pattern: an operator watches allowance push decisions land in real time
// instead of polling logs.
func (s *AdminServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if s.hub == nil {
		<-r.Context().Done()
		return
	}
	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *AdminServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerID(r.Context())
		epoch := uint64(time.Now().Unix()) / uint64(adminQuota.EpochSeconds)
		if _, err := nativecommon.Apply(s.quotas, "admin", epoch, []byte(caller), adminQuota, 1, 0); err != nil {
			observability.ModuleMetrics().RecordThrottle("quota_exceeded")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *AdminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type registerEOARequest struct {
	Avatar        string  `json:"avatar"`
	EOA           string  `json:"eoa"`
	DailyLimit    string  `json:"daily_limit"`
	TransferTypes []uint8 `json:"transfer_types"`
}

func (s *AdminServer) handleRegisterEOA(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req registerEOARequest
	status := http.StatusOK
	defer func() { observability.ModuleMetrics().Observe("register_eoa", status, time.Since(start)) }()

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, err)
		return
	}
	avatar, err := crypto.DecodeAddress(req.Avatar)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, err)
		return
	}
	eoa, err := crypto.DecodeAddress(req.EOA)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, err)
		return
	}
	limit, ok := new(big.Int).SetString(req.DailyLimit, 10)
	if !ok {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, errors.New("invalid daily_limit"))
		return
	}
	if err := s.authorizer.RegisterEOA(avatar, eoa, limit, req.TransferTypes); err != nil {
		status = statusFor(err)
		writeError(w, r.Context(), status, err)
		return
	}
	writeJSON(w, r.Context(), status, map[string]string{"status": "registered"})
}

type eoaRequest struct {
	EOA string `json:"eoa"`
}

func (s *AdminServer) handleRevokeEOA(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req eoaRequest
	status := http.StatusOK
	defer func() { observability.ModuleMetrics().Observe("revoke_eoa", status, time.Since(start)) }()

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, err)
		return
	}
	eoa, err := crypto.DecodeAddress(req.EOA)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, err)
		return
	}
	if err := s.authorizer.RevokeEOA(eoa); err != nil {
		status = statusFor(err)
		writeError(w, r.Context(), status, err)
		return
	}
	writeJSON(w, r.Context(), status, map[string]string{"status": "revoked"})
}

type updateLimitRequest struct {
	EOA        string `json:"eoa"`
	DailyLimit string `json:"daily_limit"`
}

func (s *AdminServer) handleUpdateLimit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req updateLimitRequest
	status := http.StatusOK
	defer func() { observability.ModuleMetrics().Observe("update_limit", status, time.Since(start)) }()

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, err)
		return
	}
	eoa, err := crypto.DecodeAddress(req.EOA)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, err)
		return
	}
	limit, ok := new(big.Int).SetString(req.DailyLimit, 10)
	if !ok {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, errors.New("invalid daily_limit"))
		return
	}
	if err := s.authorizer.UpdateLimit(eoa, limit); err != nil {
		status = statusFor(err)
		writeError(w, r.Context(), status, err)
		return
	}
	writeJSON(w, r.Context(), status, map[string]string{"status": "updated"})
}

type updateAllowedTypesRequest struct {
	EOA           string  `json:"eoa"`
	TransferTypes []uint8 `json:"transfer_types"`
}

func (s *AdminServer) handleUpdateAllowedTypes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req updateAllowedTypesRequest
	status := http.StatusOK
	defer func() {
		observability.ModuleMetrics().Observe("update_allowed_types", status, time.Since(start))
	}()

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, err)
		return
	}
	eoa, err := crypto.DecodeAddress(req.EOA)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, r.Context(), status, err)
		return
	}
	if err := s.authorizer.UpdateAllowedTypes(eoa, req.TransferTypes); err != nil {
		status = statusFor(err)
		writeError(w, r.Context(), status, err)
		return
	}
	writeJSON(w, r.Context(), status, map[string]string{"status": "updated"})
}

func (s *AdminServer) handlePause(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() { observability.ModuleMetrics().Observe("pause", status, time.Since(start)) }()
	if err := s.authorizer.Pause(); err != nil {
		status = statusFor(err)
		writeError(w, r.Context(), status, err)
		return
	}
	writeJSON(w, r.Context(), status, map[string]string{"status": "paused"})
}

func (s *AdminServer) handleUnpause(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() { observability.ModuleMetrics().Observe("unpause", status, time.Since(start)) }()
	if err := s.authorizer.Unpause(); err != nil {
		status = statusFor(err)
		writeError(w, r.Context(), status, err)
		return
	}
	writeJSON(w, r.Context(), status, map[string]string{"status": "unpaused"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, spendauth.ErrEOAAlreadyRegistered),
		errors.Is(err, spendauth.ErrEOANotRegistered),
		errors.Is(err, spendauth.ErrInvalidAddress),
		errors.Is(err, spendauth.ErrInvalidDailyLimit),
		errors.Is(err, spendauth.ErrInvalidTransferType),
		errors.Is(err, spendauth.ErrAmountExceedsUint256),
		errors.Is(err, spendauth.ErrCannotRegisterCoreAddress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, ctx context.Context, status int, body map[string]string) {
	if body == nil {
		body = map[string]string{}
	}
	if id := requestIDFrom(ctx); id != "" {
		body["request_id"] = id
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, ctx context.Context, status int, err error) {
	writeJSON(w, ctx, status, map[string]string{"error": err.Error()})
}
