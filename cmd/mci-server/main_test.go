package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mci/mci/internal/config"
	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/platform/auth"
	"github.com/mci/mci/internal/platform/lock"
	"github.com/mci/mci/internal/testutil"
)

var signingKey = "0123456789abcdef0123456789abcdef"

func testConfig(authMode string) *config.Config {
	return &config.Config{
		Env:                 "test",
		AuthMode:            authMode,
		LogLevel:            "debug",
		AuthSigningKey:      signingKey,
		RequestTimeout:      5 * time.Second,
		FeedConsumer:        "DUPLICATE_PATIENT_MARKER",
		FeedTickTimeout:     5 * time.Second,
		FeedLockTTL:         time.Minute,
		DuplicatesPageLimit: 25,
	}
}

func memoryStores() stores {
	return stores{
		records:    testutil.NewPatients(),
		changes:    testutil.NewUpdateLog(),
		markers:    testutil.NewMarkers(),
		duplicates: testutil.NewDuplicates(),
		ignored:    testutil.NewIgnored(),
		tx:         testutil.NoTx{},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	a, err := newApp(cfg, memoryStores(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return newRouter(cfg, a, nil, zerolog.Nop())
}

func call(e *echo.Echo, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}).SignedString([]byte(signingKey))
	require.NoError(t, err)
	return tok
}

func TestRouter_DetectsDuplicatesEndToEnd(t *testing.T) {
	e := newTestRouter(t, testConfig("development"))

	for _, body := range []string{
		`{"hid":"A","given_name":"Rina","nid":"N1","present_address":{"division_id":"10","district_id":"20"}}`,
		`{"hid":"B","given_name":"Rina","nid":"N1","present_address":{"division_id":"10","district_id":"20"}}`,
	} {
		rec := call(e, http.MethodPost, "/api/v1/patients", body, "")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	for i := 0; i < 2; i++ {
		rec := call(e, http.MethodPost, "/api/v1/feed/tick", "", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"processed":true}`, rec.Body.String())
	}
	rec := call(e, http.MethodPost, "/api/v1/feed/tick", "", "")
	assert.JSONEq(t, `{"processed":false}`, rec.Body.String())

	rec = call(e, http.MethodGet, "/api/v1/catchments/1020/duplicates", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data []struct {
			Patient1 patient.Summary `json:"patient1"`
			Patient2 patient.Summary `json:"patient2"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.ElementsMatch(t, []string{"A", "B"}, []string{body.Data[0].Patient1.HealthID, body.Data[0].Patient2.HealthID})
}

func TestRouter_JWTMode(t *testing.T) {
	e := newTestRouter(t, testConfig("jwt"))

	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodGet, "/api/v1/patients/A", "", "").Code)
	assert.Equal(t, http.StatusForbidden, call(e, http.MethodGet, "/api/v1/patients/A", "", token(t, "viewer")).Code)
	assert.Equal(t, http.StatusNotFound, call(e, http.MethodGet, "/api/v1/patients/A", "", token(t, patient.RoleRegistrar)).Code)
	assert.Equal(t, http.StatusForbidden, call(e, http.MethodPost, "/api/v1/feed/tick", "", token(t, patient.RoleRegistrar)).Code)
}

func TestRouter_Infrastructure(t *testing.T) {
	e := newTestRouter(t, testConfig("jwt"))

	rec := call(e, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mci_duplicates_inserted_total")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-42")
	out := httptest.NewRecorder()
	e.ServeHTTP(out, req)
	assert.Equal(t, "req-42", out.Header().Get(echo.HeaderXRequestID))
}

func TestNewApp_RedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("development")
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := newApp(cfg, memoryStores(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &lock.RedisLock{}, a.locker)
	require.Contains(t, a.probes(), "redis")
	assert.NoError(t, a.probes()["redis"](t.Context()))
}

func TestNewApp_InvalidRedisURL(t *testing.T) {
	cfg := testConfig("development")
	cfg.RedisURL = "not-a-url://"
	_, err := newApp(cfg, memoryStores(), zerolog.Nop())
	assert.Error(t, err)
}

func TestNewApp_WithoutRedis(t *testing.T) {
	a, err := newApp(testConfig("development"), memoryStores(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, lock.Noop{}, a.locker)
	assert.Nil(t, a.probes())
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig("development")
	assert.Equal(t, zerolog.DebugLevel, newLogger(cfg).GetLevel())

	cfg.LogLevel = "nonsense"
	assert.Equal(t, zerolog.InfoLevel, newLogger(cfg).GetLevel())

	cfg.LogLevel = ""
	assert.Equal(t, zerolog.InfoLevel, newLogger(cfg).GetLevel())
}
