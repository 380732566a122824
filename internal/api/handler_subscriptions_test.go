package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dormitory-access-backend/internal/model"
)

func setupSubscriptionRouter() *gin.Engine {
	r := gin.New()
	handler := NewHandler(nil, nil, nil)
	r.PUT("/api/subscriptions", handler.PutSubscription)
	r.GET("/api/vapid_public_key", handler.GetVAPIDPublicKey)
	return r
}

func TestPutSubscription(t *testing.T) {
	router := setupSubscriptionRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
}

func TestGetVAPIDPublicKey_NotConfigured(t *testing.T) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/vapid_public_key", nil)
	setupSubscriptionRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.DB().AutoMigrate(&model.PushSubscription{}))

	body := `{"endpoint":"https://push.example/abc","p256dh":"k","auth":"a","subscribed_dormitories":[` +
		itoa(env.north.ID) + `,` + itoa(env.east.ID) + `]}`
	w := env.do(t, http.MethodPut, "/api/subscriptions", strings.NewReader(body), directorOf(1), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", nil, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscribed_dormitories":[`+itoa(env.north.ID)+`]}`, w.Body.String(),
		"dormitories outside the caller's organization are not followed")

	w = env.do(t, http.MethodDelete, "/api/subscriptions", strings.NewReader(`{"endpoint":"https://push.example/abc"}`), nil, "application/json")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", nil, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	h := NewHandler(nil, nil, &webpush.Options{VAPIDPublicKey: "pub"})
	r := gin.New()
	r.GET("/k", h.GetVAPIDPublicKey)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/k", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"pub"}`, w.Body.String())
}
