package supervise

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// ProcessHandle is one running OS process instance of a worker. A fresh
// handle is created on every launch and never reused; InstanceID
// distinguishes the current handle from stale ones after a restart.
type ProcessHandle interface {
	InstanceID() string
	PID() int
	// Running reports whether the process is still alive. Must be cheap
	// enough to call for every worker on every monitor tick.
	Running() bool
	Signal(sig os.Signal) error
	// Release reaps the process after it is confirmed dead so it does not
	// linger as a zombie. Idempotent.
	Release()
}

// Launcher starts a fresh OS process for a worker spec.
type Launcher interface {
	Launch(ctx context.Context, spec WorkerSpec) (ProcessHandle, error)
}

// Activator delivers the out-of-band activate signal to a process handle.
// Delivery is fire-and-forget and idempotent on the worker side; a failure
// means the handle is presumed stale or dead.
type Activator interface {
	Activate(h ProcessHandle) error
}

// osHandle wraps an exec.Cmd launched by execLauncher. A background goroutine
// waits on the child, which both reaps the zombie and records the exit.
type osHandle struct {
	id   string
	cmd  *exec.Cmd
	done chan struct{}

	once sync.Once
}

func newOSHandle(cmd *exec.Cmd) *osHandle {
	h := &osHandle{
		id:   uuid.NewString(),
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		if err := cmd.Wait(); err != nil {
			logrus.Debugf("process %d exited: %v", cmd.Process.Pid, err)
		}
	}()
	return h
}

func (h *osHandle) InstanceID() string { return h.id }

func (h *osHandle) PID() int { return h.cmd.Process.Pid }

func (h *osHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	// The wait goroutine has not reported yet; ask the OS. Covers the gap
	// between the process dying and Wait returning.
	alive, err := process.PidExists(int32(h.cmd.Process.Pid))
	if err != nil {
		// Can't tell; treat as alive and let a later tick decide.
		return true
	}
	return alive
}

func (h *osHandle) Signal(sig os.Signal) error {
	return h.cmd.Process.Signal(sig)
}

func (h *osHandle) Release() {
	h.once.Do(func() {
		// Wait is already pending in the goroutine from newOSHandle; just
		// drop our reference once it finishes.
		<-h.done
	})
}

// execLauncher launches workers by re-executing the supervisor's own binary
// with the worker subcommand, so every restart runs with identical
// configuration.
type execLauncher struct {
	coordinatorAddr string
}

// NewExecLauncher returns the production Launcher. Workers connect (or, for
// the server worker, listen) at coordinatorAddr once activated.
func NewExecLauncher(coordinatorAddr string) Launcher {
	return &execLauncher{coordinatorAddr: coordinatorAddr}
}

func (l *execLauncher) Launch(ctx context.Context, spec WorkerSpec) (ProcessHandle, error) {
	argv := spec.Command
	if len(argv) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving own binary: %w", err)
		}
		argv = []string{self, "worker", "--identity", spec.Identity, "--coordinator", l.coordinatorAddr}
		if spec.Server {
			argv = append(argv, "--server")
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", spec.Identity, err)
	}

	h := newOSHandle(cmd)
	logrus.Infof("Started %s with PID %d (instance %s)", spec.Identity, h.PID(), h.InstanceID())
	return h, nil
}

// sigusrActivator delivers SIGUSR1, the signal workers interpret as "begin
// your socket-connect phase".
type sigusrActivator struct{}

// NewSignalActivator returns the production Activator.
func NewSignalActivator() Activator {
	return sigusrActivator{}
}

func (sigusrActivator) Activate(h ProcessHandle) error {
	if h == nil || !h.Running() {
		return fmt.Errorf("process not running")
	}
	if err := h.Signal(syscall.SIGUSR1); err != nil {
		return fmt.Errorf("sending SIGUSR1: %w", err)
	}
	return nil
}
