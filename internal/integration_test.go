package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"studyroom-backend/config"
	"studyroom-backend/internal/api"
	"studyroom-backend/internal/model"
	"studyroom-backend/internal/reservation"
	"studyroom-backend/internal/slotlock"
	"studyroom-backend/internal/store"
	"studyroom-backend/internal/sweep"
)

// setupServer wires the full stack against an in-memory SQLite database:
// store, lock manager, reservation service, sweep, and the HTTP router.
func setupServer(t *testing.T) (*gorm.DB, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, testDB.AutoMigrate(
		&model.Member{}, &model.Slot{}, &model.Reservation{}, &model.PushSubscription{}))

	gormStore := store.NewGormStore(testDB)
	rcfg := config.ReservationConfig{
		LateThreshold: 30 * time.Minute,
		LockWait:      2 * time.Second,
	}
	svc := reservation.NewService(
		gormStore,
		reservation.NewValidator(gormStore),
		reservation.NewCoordinator(gormStore, slotlock.NewManager(), rcfg.LockWait),
		nil, nil, nil, rcfg,
	)

	sweeper := sweep.NewService(&config.SweepConfig{Enabled: true, Interval: time.Hour}, svc)

	srvCfg := &config.ServerConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTLSeconds: 1,
	}
	router := api.NewRouter(testDB, svc, sweeper, srvCfg)
	return testDB, router
}

func seedMember(t *testing.T, db *gorm.DB, id int64) {
	t.Helper()
	m := model.Member{ID: id, Email: fmt.Sprintf("m%d@example.com", id), Name: fmt.Sprintf("member %d", id)}
	require.NoError(t, db.Create(&m).Error)
}

func seedSlot(t *testing.T, db *gorm.DB, roomID int64, kind model.RoomKind, capacity int, start time.Time) model.Slot {
	t.Helper()
	s := model.Slot{
		RoomID:   roomID,
		RoomKind: kind,
		Date:     start.Format("2006-01-02"),
		StartAt:  start,
		EndAt:    start.Add(time.Hour),
		Capacity: capacity,
		Status:   model.SlotAvailable,
	}
	require.NoError(t, db.Create(&s).Error)
	return s
}

func doJSON(router *gin.Engine, method, path string, memberID int64, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if memberID > 0 {
		req.Header.Set("X-Member-ID", fmt.Sprintf("%d", memberID))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestReservationLifecycle walks one reservation through booking, slot
// listing, QR issuance, a premature check-in attempt, and cancellation,
// verifying the database state at each step.
func TestReservationLifecycle(t *testing.T) {
	db, router := setupServer(t)
	seedMember(t, db, 1)
	slot := seedSlot(t, db, 1, model.RoomKindIndividual, 1, time.Now().Add(2*time.Hour))

	// --- Book ---
	w := doJSON(router, http.MethodPost, "/api/reservations", 1, gin.H{"slot_ids": []int64{slot.ID}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res model.Reservation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, model.StatusReserved, res.Status)

	var stored model.Slot
	require.NoError(t, db.First(&stored, slot.ID).Error)
	assert.Equal(t, 1, stored.Occupancy)
	assert.Equal(t, model.SlotReserved, stored.Status)

	// --- Slot listing reflects the booking ---
	w = doJSON(router, http.MethodGet,
		fmt.Sprintf("/api/rooms/1/slots?date=%s", slot.Date), 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []model.Slot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, model.SlotReserved, listed[0].Status)

	// --- Issue the entry QR, twice: same token both times ---
	w = doJSON(router, http.MethodPost, fmt.Sprintf("/api/reservations/%d/qr", res.ID), 1, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var issued struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Token)

	w = doJSON(router, http.MethodPost, fmt.Sprintf("/api/reservations/%d/qr", res.ID), 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reissued struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reissued))
	assert.Equal(t, issued.Token, reissued.Token)

	// --- QR image renders ---
	w = doJSON(router, http.MethodGet, fmt.Sprintf("/api/reservations/%d/qr.png", res.ID), 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	// --- Check-in before the window opens is rejected ---
	w = doJSON(router, http.MethodPost, "/api/checkin", 0, gin.H{"token": issued.Token})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var errBody map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.Equal(t, "NOT_YET_TIME", errBody["reason"])

	// --- Cancel releases the slot ---
	w = doJSON(router, http.MethodDelete, fmt.Sprintf("/api/reservations/%d", res.ID), 1, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, db.First(&stored, slot.ID).Error)
	assert.Equal(t, 0, stored.Occupancy)
	assert.Equal(t, model.SlotAvailable, stored.Status)

	// --- The consumed token no longer resolves ---
	w = doJSON(router, http.MethodPost, "/api/checkin", 0, gin.H{"token": issued.Token})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestConcurrentBookingOverHTTP fires ten simultaneous booking requests
// at a single-seat slot: exactly one succeeds and the rest get a
// conflict, never an overfilled slot.
func TestConcurrentBookingOverHTTP(t *testing.T) {
	db, router := setupServer(t)
	for i := int64(1); i <= 10; i++ {
		seedMember(t, db, i)
	}
	slot := seedSlot(t, db, 1, model.RoomKindIndividual, 1, time.Now().Add(2*time.Hour))

	var wg sync.WaitGroup
	codes := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w := doJSON(router, http.MethodPost, "/api/reservations", int64(n+1), gin.H{"slot_ids": []int64{slot.ID}})
			codes[n] = w.Code
		}(i)
	}
	wg.Wait()

	created, conflicted := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicted++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 9, conflicted)

	var stored model.Slot
	require.NoError(t, db.First(&stored, slot.ID).Error)
	assert.Equal(t, 1, stored.Occupancy)

	var count int64
	require.NoError(t, db.Model(&model.Reservation{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

// TestAdminSweepOverHTTP books a reservation, ages it past its window,
// and drives the no-show transition through the admin endpoint.
func TestAdminSweepOverHTTP(t *testing.T) {
	db, router := setupServer(t)
	seedMember(t, db, 1)
	slot := seedSlot(t, db, 1, model.RoomKindIndividual, 1, time.Now().Add(2*time.Hour))

	w := doJSON(router, http.MethodPost, "/api/reservations", 1, gin.H{"slot_ids": []int64{slot.ID}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res model.Reservation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	// Age the reservation past its window.
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&model.Reservation{}).Where("id = ?", res.ID).
		Updates(map[string]any{"start_at": past, "end_at": past.Add(time.Hour)}).Error)

	w = doJSON(router, http.MethodPost, "/api/admin/sweep", 0, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var stored model.Reservation
	require.NoError(t, db.First(&stored, res.ID).Error)
	assert.Equal(t, model.StatusNoShow, stored.Status)

	// Rerunning the sweep is a no-op.
	w = doJSON(router, http.MethodPost, "/api/admin/sweep", 0, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, db.First(&stored, res.ID).Error)
	assert.Equal(t, model.StatusNoShow, stored.Status)
}

// TestBookingRequiresIdentity rejects requests without the gateway
// identity header.
func TestBookingRequiresIdentity(t *testing.T) {
	_, router := setupServer(t)

	w := doJSON(router, http.MethodPost, "/api/reservations", 0, gin.H{"slot_ids": []int64{1}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
