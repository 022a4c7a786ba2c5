package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type countingReporter struct {
	NoOpProgress
	last int64
}

func (c *countingReporter) Update(current int64) { c.last = current }

func TestProgressWriter(t *testing.T) {
	var buf bytes.Buffer
	rep := &countingReporter{}
	w := NewProgressWriter(&buf, rep)

	w.Write([]byte("hello "))
	w.Write([]byte("world"))

	if buf.String() != "hello world" || rep.last != 11 || w.Written() != 11 {
		t.Errorf("buf=%q last=%d written=%d", buf.String(), rep.last, w.Written())
	}
}

func TestPrefetchUINonTerminal(t *testing.T) {
	var out bytes.Buffer
	ui := newPrefetchUI(2, &out, false)

	a := ui.AddGroupBar(1, "g-a", 3)
	a.Settle(true)
	a.Settle(true)
	a.Settle(false)
	a.Complete(nil)
	a.Complete(nil) // second call is ignored

	b := ui.AddGroupBar(2, "g-b", 0)
	b.Complete(errors.New("404 not found"))
	ui.Wait()

	text := out.String()
	if !strings.Contains(text, "✓ g-a: 2 ready, 1 failed") {
		t.Errorf("missing group summary in %q", text)
	}
	if !strings.Contains(text, "✗ g-b: 404 not found") {
		t.Errorf("missing failure line in %q", text)
	}
	if ui.Completed() != 2 || ui.IsTerminal() {
		t.Errorf("Completed=%d IsTerminal=%v", ui.Completed(), ui.IsTerminal())
	}
	if bar, ok := ui.Bar("g-a"); !ok || bar != a {
		t.Error("Bar lookup failed")
	}
}

func TestTruncateKey(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"sha256:0123456789abcdef", 10, "…789abcdef"},
	}
	for _, tt := range tests {
		if got := truncateKey(tt.in, tt.width); got != tt.want {
			t.Errorf("truncateKey(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
