package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raterudder/autarcostatus/pkg/status"
	"github.com/raterudder/autarcostatus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleStatus(t *testing.T) {
	cache := status.NewCache()
	srv := New(cache, ":0", "")
	handler := srv.setupHandler()

	get := func(t *testing.T) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("Absent Before First Reading", func(t *testing.T) {
		w := get(t)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"no status available yet"}`, w.Body.String())
	})

	t.Run("First Cycle", func(t *testing.T) {
		cache.Write(types.Reading{CurrentW: 500, TotalKWh: 1200, ObservedAt: 1700000000})

		w := get(t)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"current_w":500,"total_kwh":1200,"last_updated":1700000000}`, w.Body.String())
	})

	t.Run("Second Cycle", func(t *testing.T) {
		cache.Write(types.Reading{CurrentW: 480, TotalKWh: 1201, ObservedAt: 1700000300})

		w := get(t)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"current_w":480,"total_kwh":1201,"last_updated":1700000300}`, w.Body.String())
	})

	t.Run("Headers", func(t *testing.T) {
		w := get(t)
		assert.Equal(t, "autarcostatus", w.Header().Get("Server"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
		assert.Contains(t, w.Header().Values("Vary"), "Accept-Encoding")
	})

	t.Run("Only Root Is Served", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/metrics", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)

		req = httptest.NewRequest("POST", "/", nil)
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRun(t *testing.T) {
	t.Run("Serves Until Canceled", func(t *testing.T) {
		cache := status.NewCache()
		cache.Write(types.Reading{CurrentW: 1, TotalKWh: 2, ObservedAt: 3})
		addr := freeAddr(t)
		metricsAddr := freeAddr(t)
		srv := New(cache, addr, metricsAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx) }()

		var body string
		require.Eventually(t, func() bool {
			resp, err := http.Get("http://" + addr + "/")
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			body = string(b)
			return resp.StatusCode == http.StatusOK
		}, 2*time.Second, 10*time.Millisecond)
		assert.JSONEq(t, `{"current_w":1,"total_kwh":2,"last_updated":3}`, body)

		resp, err := http.Get("http://" + metricsAddr + "/metrics")
		require.NoError(t, err)
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(b), "go_goroutines")

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("server did not stop")
		}
	})

	t.Run("Listen Failure", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		srv := New(status.NewCache(), ln.Addr().String(), "")
		err = srv.Run(context.Background())
		require.Error(t, err)
		assert.ErrorContains(t, err, "failed to listen")
	})

	t.Run("Metrics Listen Failure", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		srv := New(status.NewCache(), freeAddr(t), ln.Addr().String())
		err = srv.Run(context.Background())
		require.Error(t, err)
		assert.ErrorContains(t, err, "failed to listen")
	})
}
