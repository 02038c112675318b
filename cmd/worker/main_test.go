package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database/dbtest"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestCleanupOutbox_DeletesPublishedPastRetention(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := outbox.NewSQLRepository(conn)

	published := &outbox.Message{
		EventID:       uuid.New(),
		AggregateType: "payment",
		AggregateID:   uuid.New(),
		RoutingKey:    "payments.payment.succeeded",
		Payload:       []byte(`{"data":{}}`),
		CreatedAt:     time.Now(),
	}
	unpublished := &outbox.Message{
		EventID:       uuid.New(),
		AggregateType: "payment",
		AggregateID:   uuid.New(),
		RoutingKey:    "payments.payment.failed",
		Payload:       []byte(`{"data":{}}`),
		CreatedAt:     time.Now(),
	}
	require.NoError(t, repo.SaveBatch(ctx, []*outbox.Message{published, unpublished}))
	now := time.Now()
	require.NoError(t, repo.MarkPublished(ctx, published.ID, now))

	assert.Zero(t, cleanupOutbox(ctx, repo, now, 7, quietLogger()), "still inside retention")
	assert.Equal(t, int64(1), cleanupOutbox(ctx, repo, now.AddDate(0, 0, 8), 7, quietLogger()))
	assert.Equal(t, 1, dbtest.Count(t, conn, "SELECT COUNT(*) FROM outbox"))
}

func TestHealthMux(t *testing.T) {
	conn := dbtest.Open(t)
	processor := outbox.NewProcessor(outbox.NewSQLRepository(conn), eventbus.NewNoopPublisher(quietLogger()),
		outbox.DefaultProcessorConfig(), quietLogger(), nil)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("lessonpass_up 1\n"))
	})

	t.Run("healthz reports processor stats", func(t *testing.T) {
		mux := newHealthMux(processor, conn.Ping, metrics)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, false, body["running"])
	})

	t.Run("readyz pings the database", func(t *testing.T) {
		mux := newHealthMux(processor, conn.Ping, metrics)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"ready"`)
	})

	t.Run("readyz fails when the database is down", func(t *testing.T) {
		down := func(context.Context) error { return errors.New("connection refused") }
		mux := newHealthMux(processor, down, metrics)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})

	t.Run("metrics", func(t *testing.T) {
		mux := newHealthMux(processor, conn.Ping, metrics)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "lessonpass_up")
	})
}
