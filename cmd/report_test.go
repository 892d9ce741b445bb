package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalrajan/distributed-nodes/supervise/metrics"
)

func TestParseWindow_DefaultsStartToEarliestEvent(t *testing.T) {
	events := []metrics.Event{
		{Worker: "w", Kind: metrics.KindRepair, Timestamp: time.Unix(200, 0)},
		{Worker: "w", Kind: metrics.KindFailure, Timestamp: time.Unix(100, 0)},
	}

	window, err := parseWindow("", "", events)
	require.NoError(t, err)

	assert.Equal(t, time.Unix(100, 0), window.Start)
	assert.False(t, window.Closed())
}

func TestParseWindow_ParsesRFC3339Bounds(t *testing.T) {
	window, err := parseWindow("2026-08-30T10:00:00Z", "2026-08-30T11:00:00Z", nil)
	require.NoError(t, err)

	assert.True(t, window.Closed())
	assert.Equal(t, time.Hour, window.Duration())
}

func TestParseWindow_EndBeforeStart_Fails(t *testing.T) {
	_, err := parseWindow("2026-08-30T11:00:00Z", "2026-08-30T10:00:00Z", nil)
	assert.Error(t, err)
}

func TestParseWindow_BadTimestamp_Fails(t *testing.T) {
	_, err := parseWindow("yesterday", "", nil)
	assert.Error(t, err)
}
