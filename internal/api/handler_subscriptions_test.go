package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"studyroom-backend/internal/model"
)

func setupSubscriptionRouter(t *testing.T) (*gorm.DB, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.PushSubscription{}))

	r := gin.New()
	r.PUT("/api/subscriptions", PutSubscription(db))
	r.GET("/api/subscriptions", GetSubscription(db))
	r.DELETE("/api/subscriptions", DeleteSubscription(db))
	return db, r
}

func subRequest(router *gin.Engine, method, path string, memberID int64, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if memberID > 0 {
		req.Header.Set("X-Member-ID", fmt.Sprintf("%d", memberID))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPutSubscriptionInvalidBody(t *testing.T) {
	_, router := setupSubscriptionRouter(t)

	w := subRequest(router, http.MethodPut, "/api/subscriptions", 1, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutSubscriptionRequiresIdentity(t *testing.T) {
	_, router := setupSubscriptionRouter(t)

	w := subRequest(router, http.MethodPut, "/api/subscriptions", 0,
		`{"endpoint":"https://example.com/push","p256dh":"k","auth":"a"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	db, router := setupSubscriptionRouter(t)
	endpoint := "https://example.com/push/abc"

	w := subRequest(router, http.MethodPut, "/api/subscriptions", 7,
		fmt.Sprintf(`{"endpoint":%q,"p256dh":"k1","auth":"a1"}`, endpoint))
	require.Equal(t, http.StatusCreated, w.Code)

	// Re-registering the same endpoint under another member replaces it.
	w = subRequest(router, http.MethodPut, "/api/subscriptions", 8,
		fmt.Sprintf(`{"endpoint":%q,"p256dh":"k2","auth":"a2"}`, endpoint))
	require.Equal(t, http.StatusCreated, w.Code)

	var count int64
	require.NoError(t, db.Model(&model.PushSubscription{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// The endpoint is matched against the raw query value, undecoded.
	w = subRequest(router, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, 0, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = subRequest(router, http.MethodDelete, "/api/subscriptions", 0,
		fmt.Sprintf(`{"endpoint":%q}`, endpoint))
	require.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, db.Model(&model.PushSubscription{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}
