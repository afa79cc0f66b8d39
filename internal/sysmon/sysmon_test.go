package sysmon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersFeedSample(t *testing.T) {
	m := New(t.TempDir(), time.Minute)

	m.RecordProcessed(100 * time.Microsecond)
	m.RecordProcessed(300 * time.Microsecond)
	m.RecordAnomaly()

	s := m.Sample(context.Background())
	assert.Equal(t, uint64(2), s.LogsProcessed)
	assert.Equal(t, uint64(1), s.AnomaliesFlagged)
	assert.Equal(t, uint64(200), s.AvgProcessMicros)
	assert.False(t, s.Timestamp.IsZero())
}

func TestStartStopWritesSnapshots(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, 30*time.Millisecond)

	require.NoError(t, m.Start(context.Background()))
	m.RecordProcessed(time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	m.Stop()

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, ".json", filepath.Ext(files[0].Name()))
}

func TestStopWithoutStart(t *testing.T) {
	m := New(t.TempDir(), time.Minute)
	assert.NotPanics(t, m.Stop)
}
