package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flicky/marketplace-api/internal/auth"
	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/middleware"
	"github.com/flicky/marketplace-api/internal/service"
	"github.com/flicky/marketplace-api/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
	decimal.MarshalJSONWithoutQuotes = true
}

// stubVerifier accepts tokens of the form "tok:<sub>".
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, token string) (*auth.Claims, error) {
	sub, ok := strings.CutPrefix(token, "tok:")
	if !ok || sub == "" {
		return nil, &auth.Error{Code: auth.CodeInvalidHeader, Description: "Unable to parse authentication token."}
	}
	return &auth.Claims{
		Name:  sub + " name",
		Email: sub + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, nil
}

type testServer struct {
	router *gin.Engine
	st     store.Store
	idp    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()

	idp := httptest.NewServer(http.HandlerFunc(fakeIdP))
	t.Cleanup(idp.Close)

	users := service.NewUserService(st)
	verifier := stubVerifier{}
	oauth := auth.NewOAuthClient(idp.URL, "client-123", "secret", "http://api.test/callback")

	h := Handlers{
		Auth:     NewAuthHandler(verifier, oauth, users, false),
		Users:    NewUserHandler(users, 5),
		Products: NewProductHandler(service.NewProductService(st, nil, nil, log), 5),
		Orders:   NewOrderHandler(service.NewOrderService(st, nil, nil, log), 5),
		Cleanup:  NewCleanupHandler(service.NewCleanupService(st, nil, log)),
		Health:   NewHealthHandler(st, nil, nil),
	}
	router := NewRouter(h,
		middleware.Authenticate(verifier, users),
		middleware.Authenticate(verifier, nil),
	)
	return &testServer{router: router, st: st, idp: idp}
}

// fakeIdP answers the token endpoint for the password and code grants.
func fakeIdP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/oauth/token" {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ok := (r.PostForm.Get("grant_type") == "password" && r.PostForm.Get("password") == "hunter2") ||
		(r.PostForm.Get("grant_type") == "authorization_code" && r.PostForm.Get("code") == "good-code")
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Wrong email or password."}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "access-abc",
		"id_token":     "tok:auth0|alice",
		"token_type":   "Bearer",
		"expires_in":   86400,
		"scope":        "openid profile email",
	})
}

type call struct {
	method string
	path   string
	body   string
	token  string
	accept string
	cookie *http.Cookie
	header http.Header
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = bytes.NewBufferString(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Host = "api.test"
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.accept != "" {
		req.Header.Set("Accept", c.accept)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) createProduct(t *testing.T, body string) dto.ProductResponse {
	t.Helper()
	w := s.do(t, call{method: http.MethodPost, path: "/products", body: body})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.ProductResponse](t, w)
}

func (s *testServer) createOrder(t *testing.T, token string) dto.OrderResponse {
	t.Helper()
	w := s.do(t, call{method: http.MethodPost, path: "/orders", token: token, body: `{"billingAddress":"1 Main St"}`})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.OrderResponse](t, w)
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["Error"]
}
