package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func healthServer(db Pinger, brokers ...broker.Broker) *Server {
	cfg := &config.Config{
		Trading: config.TradingConfig{Mode: config.ModePaper},
		Health:  config.HealthConfig{Host: "127.0.0.1", Port: 0},
	}
	router := broker.NewRouter()
	for _, b := range brokers {
		router.Register(b)
	}
	return NewServer(cfg, router, db)
}

func getJSON(t *testing.T, handler http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	handler.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthEndpoint(t *testing.T) {
	s := healthServer(&fakePinger{})

	code, body := getJSON(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, config.ModePaper, body["mode"])
}

func TestDeepHealthAllComponentsUp(t *testing.T) {
	s := healthServer(&fakePinger{}, broker.NewMockBroker("binance"))

	code, body := getJSON(t, s.Handler(), "/health/deep")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	components := body["components"].(map[string]any)
	assert.Equal(t, "ok", components["database"].(map[string]any)["status"])
	assert.Equal(t, "ok", components["binance"].(map[string]any)["status"])
}

func TestDeepHealthDegradedOnDatabaseFailure(t *testing.T) {
	s := healthServer(&fakePinger{err: errors.New("pool exhausted")})

	code, body := getJSON(t, s.Handler(), "/health/deep")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
}

func TestDeepHealthDegradedOnBrokerFailure(t *testing.T) {
	down := broker.NewMockBroker("oanda")
	down.FetchErr = errors.New("connection refused")
	s := healthServer(&fakePinger{}, down)

	code, body := getJSON(t, s.Handler(), "/health/deep")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	components := body["components"].(map[string]any)
	assert.Equal(t, "down", components["oanda"].(map[string]any)["status"])
}

func TestDeepHealthSkipsDatabaseInDevMode(t *testing.T) {
	s := healthServer(nil)

	code, body := getJSON(t, s.Handler(), "/health/deep")
	assert.Equal(t, http.StatusOK, code)

	components := body["components"].(map[string]any)
	assert.Equal(t, "skipped", components["database"].(map[string]any)["status"])
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	s := healthServer(&fakePinger{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
