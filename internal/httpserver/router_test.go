package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/events"
	cartsvc "storefront/internal/service/cart"
	ordersvc "storefront/internal/service/order"
	sessionsvc "storefront/internal/service/session"
	webhooksvc "storefront/internal/service/webhook"
	"storefront/internal/state"
)

const webhookSecret = "whsec"

type testEnv struct {
	router   *gin.Engine
	commerce *fakeCommerce
	identity *fakeIdentity
	orders   *memoryOrders
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{commerce: newFakeCommerce(), identity: &fakeIdentity{}, orders: &memoryOrders{}}
	ledger := &memoryLedger{}
	bus := events.NewLocal()
	visitors := state.NewRegistry(nil)

	carts := cartsvc.New(env.commerce, ledger, nil, nil)
	unsubscribe, err := carts.Subscribe(bus, visitors)
	require.NoError(t, err)
	t.Cleanup(unsubscribe)

	router, err := buildRouter(nil, nil, Deps{
		Carts:    carts,
		Sessions: sessionsvc.New(env.identity, &memoryProfiles{}, nil, nil),
		Orders:   ordersvc.New(env.commerce, env.orders),
		Webhooks: webhooksvc.New(webhooksvc.Options{
			Secret:     webhookSecret,
			Carts:      ledger,
			Orders:     env.orders,
			Deliveries: &memoryDeliveries{},
			Bus:        bus,
		}),
		Visitors:    visitors,
		Cookies:     sessionsvc.NewCodec("cookie-secret"),
		CORSOrigins: []string{"https://shop.example"},
	})
	require.NoError(t, err)
	env.router = router
	return env
}

func (e *testEnv) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func cookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// cookieValue undoes the query escaping gin applies to cookie values.
func cookieValue(t *testing.T, c *http.Cookie) string {
	t.Helper()
	v, err := url.QueryUnescape(c.Value)
	require.NoError(t, err)
	return v
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthAndReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/healthz", healthHandler)
	router.GET("/ready-nil", readyHandler(nil))
	router.GET("/ready-ok", readyHandler(stubPinger{}))
	router.GET("/ready-down", readyHandler(stubPinger{err: errors.New("refused")}))

	for path, want := range map[string]int{
		"/healthz":    http.StatusOK,
		"/ready-nil":  http.StatusServiceUnavailable,
		"/ready-ok":   http.StatusOK,
		"/ready-down": http.StatusServiceUnavailable,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}

func TestBuildRouter_RequiresServices(t *testing.T) {
	_, err := buildRouter(nil, nil, Deps{})
	assert.Error(t, err)
}

func TestCart_UpdateLinesSetsCookies(t *testing.T) {
	env := newEnv(t)

	rec := env.do(http.MethodPut, "/api/cart/lines", `{"lines":[{"merchandiseId":"V1","quantity":3}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[cartResponse](t, rec)
	require.NotNil(t, got.Cart)
	assert.Equal(t, "30.00", got.Cart.Total.Amount)
	require.Len(t, got.Cart.Lines, 1)
	assert.Equal(t, 3, got.Cart.Lines[0].Quantity)

	vid := cookie(rec, visitorCookie)
	cart := cookie(rec, cartCookie)
	require.NotNil(t, vid)
	require.NotNil(t, cart)
	assert.True(t, vid.HttpOnly)
	assert.Equal(t, got.Cart.ID, cookieValue(t, cart))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = env.do(http.MethodPost, "/api/cart/items", `{"merchandiseId":"V1","quantity":2}`, vid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decode[cartResponse](t, rec).Cart.Lines[0].Quantity)
}

func TestCart_ResumesFromCookieForNewVisitor(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodPut, "/api/cart/lines", `{"lines":[{"merchandiseId":"V2","quantity":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	handle := cookie(rec, cartCookie)

	rec = env.do(http.MethodGet, "/api/cart", "", handle)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[cartResponse](t, rec)
	require.NotNil(t, got.Cart)
	assert.Equal(t, cookieValue(t, handle), got.Cart.ID)
}

func TestCart_EmptyWithoutHandle(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cart":null}`, rec.Body.String())
	assert.Nil(t, cookie(rec, cartCookie))
}

func TestCart_TamperedHandleStartsOver(t *testing.T) {
	env := newEnv(t)
	tampered := &http.Cookie{Name: cartCookie, Value: "garbage"}

	rec := env.do(http.MethodGet, "/api/cart", "", tampered)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"cart":null}`, rec.Body.String())
	cleared := cookie(rec, cartCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	rec = env.do(http.MethodPost, "/api/cart/items", `{"merchandiseId":"V1","quantity":1}`, tampered)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fresh := cookie(rec, cartCookie)
	require.NotNil(t, fresh)
	assert.True(t, strings.HasPrefix(cookieValue(t, fresh), "gid://shopify/Cart/"))
}

func TestCart_ErrorMapping(t *testing.T) {
	env := newEnv(t)

	rec := env.do(http.MethodPost, "/api/cart/items", `{"merchandiseId":"V1","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"validation"`)

	rec = env.do(http.MethodPut, "/api/cart/lines", `{"lines":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.commerce.fail = domain.Upstream("commerce.createCart", errors.New("dial tcp: timeout"))
	rec = env.do(http.MethodPut, "/api/cart/lines", `{"lines":[{"merchandiseId":"V1","quantity":1}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), retryMessage)
	assert.NotContains(t, rec.Body.String(), "dial tcp")

	rec = env.do(http.MethodPost, "/api/cart/checkout", "")
	env.commerce.fail = nil
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCart_ClearDropsCookie(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodPut, "/api/cart/lines", `{"lines":[{"merchandiseId":"V1","quantity":1}]}`)
	vid, handle := cookie(rec, visitorCookie), cookie(rec, cartCookie)

	rec = env.do(http.MethodDelete, "/api/cart", "", vid, handle)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cart":null}`, rec.Body.String())
	cleared := cookie(rec, cartCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
}

func TestCheckout_ReturnsURL(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodPut, "/api/cart/lines", `{"lines":[{"merchandiseId":"V1","quantity":1}]}`)
	vid := cookie(rec, visitorCookie)

	rec = env.do(http.MethodPost, "/api/cart/checkout", "", vid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "https://shop.example/checkouts/")
}

func TestWebhook_OrderPaidClearsVisitorCart(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodPut, "/api/cart/lines", `{"lines":[{"merchandiseId":"V1","quantity":2}]}`)
	vid, handle := cookie(rec, visitorCookie), cookie(rec, cartCookie)
	token := domain.CartToken(cookieValue(t, handle))

	body := `{"id":1001,"cart_token":"` + token + `"}`
	bad := httptest.NewRequest(http.MethodPost, "/webhooks/commerce", strings.NewReader(body))
	bad.Header.Set(webhooksvc.HeaderTopic, webhooksvc.TopicOrdersPaid)
	bad.Header.Set(webhooksvc.HeaderSignature, webhooksvc.Sign("wrong", []byte(body)))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/cart", "", vid, handle)
	require.NotNil(t, decode[cartResponse](t, rec).Cart)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/commerce", strings.NewReader(body))
	req.Header.Set(webhooksvc.HeaderTopic, webhooksvc.TopicOrdersPaid)
	req.Header.Set(webhooksvc.HeaderDeliveryID, "d-1")
	req.Header.Set(webhooksvc.HeaderSignature, webhooksvc.Sign(webhookSecret, []byte(body)))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/cart", "", vid, handle)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cart":null}`, rec.Body.String())
	cleared := cookie(rec, cartCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	// A browser still holding the old handle does not get it back.
	rec = env.do(http.MethodGet, "/api/cart", "", handle)
	assert.JSONEq(t, `{"cart":null}`, rec.Body.String())
}

func TestWebhook_Malformed(t *testing.T) {
	env := newEnv(t)
	body := `{not json`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/commerce", strings.NewReader(body))
	req.Header.Set(webhooksvc.HeaderTopic, webhooksvc.TopicOrdersPaid)
	req.Header.Set(webhooksvc.HeaderSignature, webhooksvc.Sign(webhookSecret, []byte(body)))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth_SignInPersistsSession(t *testing.T) {
	env := newEnv(t)

	rec := env.do(http.MethodPost, "/api/auth/signin", `{"email":"user@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid login credentials")

	rec = env.do(http.MethodPost, "/api/auth/signin", `{"email":"User@Example.com","password":"`+goodPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[sessionResponse](t, rec)
	assert.Equal(t, domain.PhaseAuthenticated, got.Phase)
	assert.Equal(t, "user@example.com", got.Session.User.Email)
	assert.NotContains(t, rec.Body.String(), "at:user@example.com")
	sess := cookie(rec, sessionCookie)
	require.NotNil(t, sess)

	// A fresh visitor presenting only the durable cookie is signed back in.
	rec = env.do(http.MethodGet, "/api/auth/session", "", sess)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[sessionResponse](t, rec)
	assert.Equal(t, domain.PhaseAuthenticated, got.Phase)
	assert.Equal(t, "u:user@example.com", got.Session.User.ID)
}

func TestAuth_ResumeOutageKeepsCookie(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodPost, "/api/auth/signin", `{"email":"user@example.com","password":"`+goodPassword+`"}`)
	sess := cookie(rec, sessionCookie)
	require.NotNil(t, sess)

	env.identity.getUserErr = domain.Upstream("identity.user", errors.New("connection reset"))
	rec = env.do(http.MethodGet, "/api/auth/session", "", sess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PhaseAnonymous, decode[sessionResponse](t, rec).Phase)
	assert.Nil(t, cookie(rec, sessionCookie))

	rec = env.do(http.MethodGet, "/api/auth/session", "", &http.Cookie{Name: sessionCookie, Value: "forged"})
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := cookie(rec, sessionCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
}

func TestAuth_ChallengeVerifyAndSignOut(t *testing.T) {
	env := newEnv(t)

	rec := env.do(http.MethodPost, "/api/auth/challenge", `{"email":"new@example.com","purpose":"sign-up"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, domain.PhaseChallengeIssued, decode[sessionResponse](t, rec).Phase)
	vid := cookie(rec, visitorCookie)

	rec = env.do(http.MethodPost, "/api/auth/verify", `{"email":"new@example.com","code":"000000","purpose":"sign-up"}`, vid)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_challenge")

	rec = env.do(http.MethodPost, "/api/auth/verify", `{"email":"new@example.com","code":"123456","purpose":"sign-up"}`, vid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := cookie(rec, sessionCookie)
	require.NotNil(t, sess)

	rec = env.do(http.MethodPost, "/api/auth/signout", "", vid, sess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PhaseAnonymous, decode[sessionResponse](t, rec).Phase)
	cleared := cookie(rec, sessionCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
	assert.Equal(t, 1, env.identity.logouts)
}

func TestOrdersAndProfile_RequireSession(t *testing.T) {
	env := newEnv(t)
	env.commerce.orders = []domain.OrderSummary{{ID: "1001", Name: "#1001", Status: domain.FulfillmentUnfulfilled}}
	require.NoError(t, env.orders.SetStatus(context.Background(), "1001", domain.FulfillmentFulfilled, "orders/fulfilled"))

	rec := env.do(http.MethodGet, "/api/orders", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(http.MethodGet, "/api/profile", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(http.MethodGet, "/api/account", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/auth/signin", `{"email":"user@example.com","password":"`+goodPassword+`"}`)
	vid := cookie(rec, visitorCookie)

	rec = env.do(http.MethodGet, "/api/orders", "", vid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var orders struct {
		Orders []domain.OrderSummary `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders.Orders, 1)
	assert.Equal(t, domain.FulfillmentFulfilled, orders.Orders[0].Status)

	rec = env.do(http.MethodPut, "/api/profile", `{"gender":"robot"}`, vid)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodPut, "/api/profile", `{"city":"Kyoto","postalCode":"600-8216"}`, vid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(http.MethodGet, "/api/profile", "", vid)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"city":"Kyoto"`)
	assert.Contains(t, rec.Body.String(), `"customerId":"u:user@example.com"`)

	rec = env.do(http.MethodGet, "/api/account", "", vid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"firstName":"Ada"`)
}

func TestErrorResponse(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.Validation("op", "bad"), http.StatusBadRequest},
		{domain.InvalidChallenge("op", "expired"), http.StatusBadRequest},
		{domain.Rejected("op", "nope"), http.StatusUnprocessableEntity},
		{domain.Unauthorized("op", "who"), http.StatusUnauthorized},
		{domain.Upstream("op", errors.New("eof")), http.StatusBadGateway},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := errorResponse(tc.err)
		assert.Equal(t, tc.want, status, tc.err.Error())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
