package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func getJSON(t *testing.T, h http.Handler, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("%s: %v (%s)", path, err, rec.Body.String())
	}
	return rec.Code
}

func TestRouter_Health(t *testing.T) {
	fail := false
	feed := feedFunc(func(ctx context.Context) ([]VehicleRecord, error) {
		if fail {
			return nil, &NetworkError{URL: "http://upstream", Err: errors.New("timeout")}
		}
		return []VehicleRecord{sampleRecord()}, nil
	})
	p := newTestPoller(feed, &fakeDialer{})
	h := newRouter(p)

	var resp healthResponse
	if code := getJSON(t, h, "/api/health", &resp); code != http.StatusOK || resp.Status != "starting" {
		t.Errorf("before first cycle: %d %+v", code, resp)
	}

	p.tick(context.Background())
	resp = healthResponse{}
	if code := getJSON(t, h, "/api/health", &resp); code != http.StatusOK || resp.Status != "ok" {
		t.Errorf("after cycle: %d %+v", code, resp)
	}
	if resp.Sent != 1 || resp.Transport != "connected" || resp.Cycles != 1 {
		t.Errorf("health = %+v", resp)
	}

	var vehicles []VehicleRecord
	if code := getJSON(t, h, "/api/vehicles", &vehicles); code != http.StatusOK || len(vehicles) != 1 {
		t.Errorf("vehicles: %d %+v", code, vehicles)
	}

	fail = true
	p.tick(context.Background())
	resp = healthResponse{}
	if code := getJSON(t, h, "/api/health", &resp); code != http.StatusServiceUnavailable || resp.Status != "degraded" || resp.Error == "" {
		t.Errorf("after failed cycle: %d %+v", code, resp)
	}
	vehicles = nil
	getJSON(t, h, "/api/vehicles", &vehicles)
	if len(vehicles) != 1 {
		t.Errorf("last good snapshot should be kept, got %d vehicles", len(vehicles))
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	p := newTestPoller(feedFunc(func(ctx context.Context) ([]VehicleRecord, error) { return nil, nil }), &fakeDialer{})
	rec := httptest.NewRecorder()
	newRouter(p).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/health = %d", rec.Code)
	}
}
