package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dedupfs/dupview/internal/events"
)

func TestLoggerWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("cli", &buf, nil)

	l.Infof("loaded %d groups", 3)

	if !strings.Contains(buf.String(), "loaded 3 groups") {
		t.Errorf("output = %q, want it to contain the message", buf.String())
	}
}

func TestKVLoggerAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("tui", &buf, nil)

	l.KV().Warn("retrying request", "url", "http://x/api", "attempt", 2)

	out := buf.String()
	for _, want := range []string{"retrying request", "url=", "http://x/api", "attempt=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output = %q, want it to contain %q", out, want)
		}
	}
}

func TestErrorfMirrorsToEventBus(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventLog)

	var buf bytes.Buffer
	l := NewLogger("cli", &buf, bus)
	l.Errorf("load failed: %s", "boom")

	select {
	case ev := <-ch:
		logEv, ok := ev.(*events.LogEvent)
		if !ok {
			t.Fatalf("expected LogEvent, got %T", ev)
		}
		if logEv.Level != events.ErrorLevel || logEv.Message != "load failed: boom" {
			t.Errorf("unexpected log event: %+v", logEv)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for log event")
	}
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dupview.log")
	l, err := NewFileLogger(path, nil)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	l.Named("scheduler").Infof("drained")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "drained") || !strings.Contains(string(data), "scheduler") {
		t.Errorf("log file = %q, want message and component", string(data))
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Infof("ignored")
	l.Errorf("ignored")
	l.KV().Error("ignored", "k", "v")
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
