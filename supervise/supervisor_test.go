package supervise

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/amalrajan/distributed-nodes/supervise/metrics"
)

func TestNew_InvalidConfig_Fails(t *testing.T) {
	cfg := DefaultConfig() // no workers
	_, err := New(cfg)
	require.Error(t, err)

	cfg.Workers = []WorkerSpec{{Identity: "dup"}, {Identity: "dup"}}
	_, err = New(cfg)
	require.Error(t, err)
}

func TestSupervisor_Start_ServerFirstThenClientsActivated(t *testing.T) {
	cfg := testConfig()
	launcher := newFakeLauncher()
	activator := &fakeActivator{}
	sup, err := New(cfg, WithLauncher(launcher), WithActivator(activator))
	require.NoError(t, err)

	require.NoError(t, sup.Start(context.Background()))

	// all workers registered with the server first
	assert.Equal(t, []string{"ingest", "worker-1", "worker-2"}, sup.Registry().Identities())
	// both clients were activated so they connect to the server
	acts := activator.activations()
	assert.ElementsMatch(t, []string{
		launcher.last("worker-1").InstanceID(),
		launcher.last("worker-2").InstanceID(),
	}, acts)
	assert.False(t, sup.StartedAt().IsZero())
}

func TestSupervisor_Start_LaunchFailureTerminatesPartialSet(t *testing.T) {
	// GIVEN a deployment whose last client fails to launch
	cfg := testConfig()
	launcher := newFakeLauncher()
	launcher.failNext("worker-2", 1)
	sup, err := New(cfg, WithLauncher(launcher), WithActivator(&fakeActivator{}))
	require.NoError(t, err)

	// WHEN Start aborts
	require.Error(t, sup.Start(context.Background()))

	// THEN the workers launched before the failure were terminated and reaped
	for _, identity := range []string{"ingest", "worker-1"} {
		h := launcher.last(identity)
		require.NotNil(t, h)
		assert.Contains(t, h.sent(), os.Signal(syscall.SIGTERM), "%s must be told to exit", identity)
		assert.True(t, h.wasReleased(), "%s must be reaped", identity)
	}
}

func TestSupervisor_Lifecycle_FailureRepairedAndDrainedCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	launcher := newFakeLauncher()
	activator := &fakeActivator{}
	sup, err := New(cfg, WithLauncher(launcher), WithActivator(activator))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sup.Start(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	// kill a client and wait for the supervisor to repair it
	launcher.last("worker-1").kill()
	require.Eventually(t, func() bool {
		for _, e := range sup.Events().Snapshot() {
			if e.Worker == "worker-1" && e.Kind == metrics.KindRepair {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "worker-1 was never repaired")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	// graceful drain: no record is left Restarting
	for _, rec := range sup.Registry().All() {
		assert.NotEqual(t, StateRestarting, rec.State(), "%s left Restarting after drain", rec.Identity())
	}

	// the repaired worker got a fresh handle and the event log alternates
	assert.Equal(t, 2, launcher.count("worker-1"))
	var kinds []metrics.Kind
	for _, e := range sup.Events().Snapshot() {
		if e.Worker == "worker-1" {
			kinds = append(kinds, e.Kind)
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, metrics.KindFailure, kinds[0])
	for i := 1; i < len(kinds); i++ {
		assert.NotEqual(t, kinds[i-1], kinds[i], "kinds must strictly alternate")
	}
}

func TestSupervisor_Report_CoversAllRegisteredWorkers(t *testing.T) {
	cfg := testConfig()
	launcher := newFakeLauncher()
	sup, err := New(cfg, WithLauncher(launcher), WithActivator(&fakeActivator{}))
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background()))

	report := sup.Report(metrics.Window{Start: sup.StartedAt(), End: sup.StartedAt().Add(time.Minute)})

	require.Len(t, report.Workers, 3)
	for identity, wr := range report.Workers {
		assert.Nil(t, wr.MTTRSeconds, "%s never failed, MTTR must be no data", identity)
		require.NotNil(t, wr.Availability)
		assert.InDelta(t, 1.0, *wr.Availability, 1e-9)
	}
}
