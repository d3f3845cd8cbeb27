// Package listener accepts hook events over a local unix socket. Each
// hook script invocation opens one connection, writes one JSON event,
// and closes; no response is ever sent back.
package listener

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agent-pulse/backend/internal/hook"
	"github.com/agent-pulse/backend/internal/session"
	"github.com/agent-pulse/backend/internal/transcript"
)

// readTimeout bounds how long a connection may dribble its single event.
// Hook scripts write immediately; a slow peer is a stuck one.
const readTimeout = 5 * time.Second

type Listener struct {
	path  string
	store *session.Store

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func New(path string, store *session.Store) *Listener {
	return &Listener{path: path, store: store}
}

// Start binds the socket and serves connections until ctx is cancelled.
// It returns once the accept loop has begun, or an error if the endpoint
// cannot be claimed (including when another instance already owns it).
func (l *Listener) Start(ctx context.Context) error {
	if err := claimSocket(l.path); err != nil {
		return err
	}

	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("binding %s: %w", l.path, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	log.Printf("Listening for hook events on %s", l.path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go l.acceptLoop(ctx, ln)
	return nil
}

// Wait blocks until all in-flight connection handlers have finished.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	defer os.Remove(l.path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Println("Listener stopped")
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(conn)
		}()
	}
}

// handleConn reads the connection's single event and applies it. Events
// on one connection are applied in the order received; ordering across
// connections is arrival order at the store, nothing more. Malformed
// payloads are logged and dropped without affecting other connections.
func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	data, err := io.ReadAll(io.LimitReader(conn, hook.MaxEventSize+1))
	if err != nil {
		log.Printf("Hook read error: %v", err)
		return
	}
	if len(data) > hook.MaxEventSize {
		log.Printf("Hook event too large (>%d bytes), dropped", hook.MaxEventSize)
		return
	}

	// A trailing newline is an accepted delimiter; a disconnect before a
	// complete message just yields a decode failure below.
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}

	ev, err := hook.Decode(data)
	if err != nil {
		log.Printf("Hook decode error: %v", err)
		return
	}

	// The transcript is consulted only for the working directory, and
	// only when the event itself did not carry one.
	if ev.Cwd == "" && ev.TranscriptPath != "" {
		ev.Cwd = transcript.WorkingDir(ev.TranscriptPath)
	}

	if _, err := l.store.Apply(ev); err != nil {
		log.Printf("Apply error for %s event: %v", ev.Kind, err)
	}
}

// claimSocket prepares the socket path for binding. A connectable socket
// means another aggregation process owns the endpoint; a dangling file
// from a crashed instance is removed.
func claimSocket(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil // nothing there, free to bind
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is already in use by another instance", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	log.Printf("Removed stale socket %s", path)
	return nil
}
