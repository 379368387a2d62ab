package xlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestTerminalHandlerWritesMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewTerminalHandler(&buf, false)
	SetDefault(h)
	l := New("proposer", "round", 5)
	l.Info("advanced round", "digests", 3)

	out := buf.String()
	if !strings.Contains(out, "advanced round") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "component=proposer") {
		t.Fatalf("expected component attr in output, got %q", out)
	}
	if !strings.Contains(out, "round=5") || !strings.Contains(out, "digests=3") {
		t.Fatalf("expected call-site attrs in output, got %q", out)
	}
}

func TestLevelStringOrdering(t *testing.T) {
	if levelString(levelTrace) != "TRACE" {
		t.Fatalf("expected TRACE")
	}
	if levelString(levelCrit) != "CRIT " {
		t.Fatalf("expected CRIT")
	}
}
