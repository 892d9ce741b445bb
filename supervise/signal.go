package supervise

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Dispatcher delivers activate signals to workers by identity, resolving the
// current process handle through the registry at delivery time.
type Dispatcher struct {
	registry  *Registry
	activator Activator
}

// NewDispatcher creates a Dispatcher using the given activation capability.
func NewDispatcher(registry *Registry, activator Activator) *Dispatcher {
	return &Dispatcher{registry: registry, activator: activator}
}

// Activate delivers the activate signal to the worker's current handle. If
// delivery fails and the handle has changed since it was fetched (race with a
// just-completed restart), it retries once against the fresh handle. A
// failure against a confirmed-current handle is returned to the caller: the
// process is presumed dead and the liveness monitor re-enters the failure
// path on its next tick.
func (d *Dispatcher) Activate(identity string) error {
	rec, err := d.registry.Get(identity)
	if err != nil {
		return err
	}

	h := rec.Handle()
	if err := d.deliver(identity, h); err == nil {
		return nil
	}

	fresh := rec.Handle()
	if fresh != nil && (h == nil || fresh.InstanceID() != h.InstanceID()) {
		logrus.Debugf("Handle for %s changed mid-activation, retrying against instance %s", identity, fresh.InstanceID())
		return d.deliver(identity, fresh)
	}
	return d.deliver(identity, h)
}

func (d *Dispatcher) deliver(identity string, h ProcessHandle) error {
	if h == nil {
		return &SignalDeliveryError{Identity: identity, Err: errors.New("no process handle")}
	}
	if err := d.activator.Activate(h); err != nil {
		return &SignalDeliveryError{Identity: identity, InstanceID: h.InstanceID(), Err: err}
	}
	return nil
}

// ActivateClients re-arms signaling for every client worker. Called at
// startup and after a server restart, since clients must reconnect to the
// new server process.
func (d *Dispatcher) ActivateClients() {
	for _, rec := range d.registry.All() {
		if rec.Spec().Server {
			continue
		}
		if err := d.Activate(rec.Identity()); err != nil {
			logrus.Warnf("Could not activate %s: %v", rec.Identity(), err)
		}
	}
}
