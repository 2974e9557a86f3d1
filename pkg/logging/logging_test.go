package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestAdapterWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	adapter := NewAdapter(log).WithComponent("engine").WithSessionID("sess-1")

	adapter.Warn("stream dropped", "reason", "timeout")

	out := buf.String()
	if !strings.Contains(out, `"component":"engine"`) {
		t.Errorf("output missing component field: %s", out)
	}
	if !strings.Contains(out, `"session_id":"sess-1"`) {
		t.Errorf("output missing session_id field: %s", out)
	}
	if !strings.Contains(out, `"reason":"timeout"`) {
		t.Errorf("output missing reason field: %s", out)
	}
}
