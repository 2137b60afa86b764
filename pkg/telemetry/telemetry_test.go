package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{})
	require.NoError(t, err)
	require.False(t, tel.Enabled())
	require.NotNil(t, tel.Tracer)
	require.NotNil(t, tel.Meter)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	_, _, err := New(Config{Enabled: true})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_ExportsMetrics(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "batchdb-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()
	require.True(t, tel.Enabled())

	counter, err := tel.Meter.Int64Counter("batchdb.test.events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	_, span := tel.Tracer.Start(context.Background(), "test")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	srv := httptest.NewServer(tel.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "batchdb_test_events")
}
