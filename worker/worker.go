// Package worker is the process the supervisor launches and monitors. It is
// a deliberately thin collaborator: the server worker accepts TCP
// connections and acknowledges tasks, client workers idle until the
// supervisor delivers SIGUSR1 and then exchange trivial tasks with the
// server. The supervisor never interprets these payloads.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configure one worker process.
type Options struct {
	Identity    string
	Coordinator string // TCP address to listen on (server) or dial (client)
	Server      bool
	// TaskInterval is how often a client submits a task. Zero means 1s.
	TaskInterval time.Duration
}

// errReconnect signals that a fresh SIGUSR1 arrived mid-connection: the
// server was restarted and the client must dial again immediately.
var errReconnect = errors.New("reconnect requested")

// Run executes the worker until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	if opts.Server {
		return runServer(ctx, opts)
	}
	return runClient(ctx, opts)
}

func runServer(ctx context.Context, opts Options) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", opts.Coordinator)
	if err != nil {
		return fmt.Errorf("%s: listening on %s: %w", opts.Identity, opts.Coordinator, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	logrus.Infof("%s: serving on %s", opts.Identity, opts.Coordinator)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: accept: %w", opts.Identity, err)
		}
		go serve(conn)
	}
}

// serve acknowledges each task line from one client until it disconnects.
func serve(conn net.Conn) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		logrus.Debugf("task received: %s", sc.Text())
		fmt.Fprintln(conn, "ack")
	}
}

func runClient(ctx context.Context, opts Options) error {
	activate := make(chan os.Signal, 1)
	signal.Notify(activate, syscall.SIGUSR1)
	defer signal.Stop(activate)

	interval := opts.TaskInterval
	if interval <= 0 {
		interval = time.Second
	}

	logrus.Infof("%s: waiting for activation", opts.Identity)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-activate:
		}
		for {
			err := taskLoop(ctx, opts, activate, interval)
			if errors.Is(err, errReconnect) {
				continue
			}
			if err != nil {
				logrus.Warnf("%s: connection lost: %v; waiting for reactivation", opts.Identity, err)
			}
			break
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// taskLoop dials the coordinator and submits one trivial task per interval
// until the connection breaks, a fresh activation forces a reconnect, or ctx
// ends.
func taskLoop(ctx context.Context, opts Options, activate <-chan os.Signal, interval time.Duration) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", opts.Coordinator)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", opts.Coordinator, err)
	}
	defer conn.Close()
	logrus.Infof("%s: connected to %s", opts.Identity, opts.Coordinator)

	// Drain acks so the server never blocks writing them.
	go io.Copy(io.Discard, conn) //nolint:errcheck

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-activate:
			return errReconnect
		case <-ticker.C:
			seq++
			if _, err := fmt.Fprintf(conn, "%s task %d\n", opts.Identity, seq); err != nil {
				return fmt.Errorf("submitting task: %w", err)
			}
		}
	}
}
