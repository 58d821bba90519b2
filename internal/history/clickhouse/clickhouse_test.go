package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/stackctl/internal/history"
)

// startClickHouse returns the native-protocol address of a throwaway server.
func startClickHouse(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("starts a ClickHouse container")
	}
	ctx := context.Background()
	c, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start clickhouse")
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestSink_DegradedRoundTrip(t *testing.T) {
	addr := startClickHouse(t)
	ctx := context.Background()

	sink, err := New(Options{Addr: addr, Table: "stack_events"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	base := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventLaunch, OccurredAt: base, Service: "mcp", PID: 4242, Port: 8001}))
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventDegraded, OccurredAt: base.Add(time.Second),
		Service: "mcp", PID: 4242, Port: 8001, Detail: "readiness exhausted after 30 attempts",
	}))

	got, err := sink.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, history.EventDegraded, got[0].Type)
	assert.Equal(t, 4242, got[0].PID)
	assert.Equal(t, 8001, got[0].Port)
	assert.Equal(t, "readiness exhausted after 30 attempts", got[0].Detail)
	assert.True(t, got[0].OccurredAt.Equal(base.Add(time.Second)))

	// a second sink on the same table reuses it
	again, err := New(Options{Addr: addr, Table: "stack_events"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	all, err := again.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNew_RejectsUnsafeTable(t *testing.T) {
	for _, table := range []string{"x; DROP TABLE y", "1abc", "events-2026"} {
		_, err := New(Options{Addr: "127.0.0.1:1", Table: table})
		assert.Error(t, err, table)
	}
}
