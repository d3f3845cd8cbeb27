package listener

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agent-pulse/backend/internal/session"
)

func startListener(t *testing.T) (string, *session.Store, context.CancelFunc) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hooks.sock")
	store := session.NewStore()
	l := New(path, store)

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		l.Wait()
	})
	return path, store, cancel
}

func send(t *testing.T, path, payload string) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// waitSessions polls until the store holds want sessions or the deadline
// passes. Connection handling is asynchronous, so tests cannot assert
// immediately after the write returns.
func waitSessions(t *testing.T, store *session.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Len() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("store has %d sessions, want %d", store.Len(), want)
}

func TestSingleEventPerConnection(t *testing.T) {
	path, store, _ := startListener(t)

	send(t, path, `{"kind": "SessionStart", "session_id": "raw-1", "pid": 100, "cwd": "/p", "start": {}}`+"\n")
	waitSessions(t, store, 1)

	got := store.Snapshot()[0]
	if got.RawSessionID != "raw-1" || got.PID != 100 {
		t.Errorf("session = %+v", got)
	}
	if got.Phase != session.Idle {
		t.Errorf("phase = %s, want idle", got.Phase)
	}
}

func TestEventsFromSeparateConnections(t *testing.T) {
	path, store, _ := startListener(t)

	send(t, path, `{"kind": "SessionStart", "session_id": "raw-1", "pid": 100, "start": {}}`)
	waitSessions(t, store, 1)
	send(t, path, `{"kind": "UserPromptSubmit", "session_id": "raw-1"}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := store.Snapshot()[0]; st.Phase == session.Processing {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("phase = %s, want processing", store.Snapshot()[0].Phase)
}

func TestMalformedEventDropped(t *testing.T) {
	path, store, _ := startListener(t)

	send(t, path, `{"kind": "SessionStart", "session_`)
	send(t, path, `not json at all`)
	send(t, path, `{"kind": "Telemetry", "session_id": "x"}`)
	send(t, path, "\n\n")

	// A valid event afterwards still lands.
	send(t, path, `{"kind": "SessionStart", "session_id": "raw-ok", "start": {}}`)
	waitSessions(t, store, 1)
	if got := store.Snapshot()[0].RawSessionID; got != "raw-ok" {
		t.Errorf("surviving session = %s", got)
	}
}

func TestOversizeEventDropped(t *testing.T) {
	path, store, _ := startListener(t)

	big := `{"kind": "Message", "session_id": "raw-big", "text": "` +
		strings.Repeat("x", 1<<20) + `"}`
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	// The handler may close the connection as soon as the size cap is
	// exceeded, so a write error here is acceptable.
	conn.Write([]byte(big))
	conn.Close()

	send(t, path, `{"kind": "SessionStart", "session_id": "raw-ok", "start": {}}`)
	waitSessions(t, store, 1)
	if got := store.Snapshot()[0].RawSessionID; got != "raw-ok" {
		t.Errorf("oversize event was applied; sessions = %v", got)
	}
}

func TestReclaimsStaleSocketFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.sock")

	// Simulate a crashed instance: a socket file nothing listens on.
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	// Raw close leaves the file behind only on some platforms; recreate
	// it explicitly so the stale-file path is exercised everywhere.
	ln.Close()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	store := session.NewStore()
	l := New(path, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start over stale socket: %v", err)
	}

	send(t, path, `{"kind": "SessionStart", "session_id": "raw-1", "start": {}}`)
	waitSessions(t, store, 1)
}

func TestRefusesLiveSocket(t *testing.T) {
	path, _, _ := startListener(t)

	second := New(path, session.NewStore())
	err := second.Start(context.Background())
	if err == nil {
		t.Fatal("second instance bound an in-use socket")
	}
	if !strings.Contains(err.Error(), "already in use") {
		t.Errorf("error = %v", err)
	}
}

func TestShutdownRemovesSocket(t *testing.T) {
	path, _, cancel := startListener(t)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("socket file still present after shutdown")
}

func TestConcurrentConnections(t *testing.T) {
	path, store, _ := startListener(t)

	for i := 0; i < 10; i++ {
		payload := `{"kind": "SessionStart", "session_id": "raw-` + string(rune('a'+i)) + `", "start": {}}`
		go func() {
			conn, err := net.Dial("unix", path)
			if err != nil {
				return
			}
			defer conn.Close()
			conn.Write([]byte(payload))
		}()
	}
	waitSessions(t, store, 10)
}
