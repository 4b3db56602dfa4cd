package cmd

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twilsonco/context-server/internal/telemetry"
)

func TestStatsEmpty(t *testing.T) {
	testEnv(t)

	out, err := runCommand(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "No queries recorded")
}

func TestStatsReportsRecordedTraffic(t *testing.T) {
	_, dataDir := testEnv(t)

	m := telemetry.NewQueryMetrics()
	m.Record("sailing lessons", "memory", 80*time.Millisecond, 3)
	m.Record("sailing lessons", "memory", 60*time.Millisecond, 3)
	m.Record("dentist", "day", 200*time.Millisecond, 0)
	require.NoError(t, telemetry.NewStore(dataDir).Save(m.Snapshot()))

	out, err := runCommand(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "3")
	assert.Contains(t, out, "memory")

	out, err = runCommand(t, "stats", "--json")
	require.NoError(t, err)
	var snap telemetry.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.ZeroResults)
	assert.Equal(t, 1, snap.Repeats)
}
