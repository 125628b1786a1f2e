package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/k811069/Bunny-serve-sub001/internal/probe"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestReadyzAllPassing(t *testing.T) {
	h := New(
		Checker{Name: "a", Check: func(context.Context) error { return nil }},
		Checker{Name: "b", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	checks := body["checks"].(map[string]any)
	if checks["a"] != "ok" || checks["b"] != "ok" {
		t.Errorf("checks = %v, want both ok", checks)
	}
}

func TestReadyzFailingChecker(t *testing.T) {
	h := New(
		Checker{Name: "db", Check: func(context.Context) error { return errors.New("pool closed") }},
		Checker{Name: "fs", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "fail" {
		t.Errorf("status field = %v, want fail", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["db"] != "fail: pool closed" {
		t.Errorf("db check = %v", checks["db"])
	}
	if checks["fs"] != "ok" {
		t.Errorf("fs check = %v, want ok (later checks still evaluated)", checks["fs"])
	}
}

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", resp.StatusCode)
	}
}

func TestEndpointChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	up := EndpointChecker("recognizer", probe.Endpoint{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	if err := up.Check(context.Background()); err != nil {
		t.Errorf("checker failed against live listener: %v", err)
	}

	ln.Close()
	down := EndpointChecker("recognizer", probe.Endpoint{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	if err := down.Check(context.Background()); err == nil {
		t.Error("checker passed against closed listener")
	}
}
