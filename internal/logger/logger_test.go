package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbosityGatesLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter("dontbug", &buf)

	log.V(1).Info("hidden at default verbosity")
	assert.Empty(t, buf.String())

	log.SetVerbosity(2)
	log.V(2).Info("session launched", "sessionId", "abc")
	log.Flush()

	out := buf.String()
	assert.Contains(t, out, "session launched")
	assert.Contains(t, out, "dontbug")
	assert.Contains(t, out, "abc")
}

func TestNegativeVerbosityIsInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter("dontbug", &buf)
	log.SetVerbosity(-3)

	log.Info("visible")
	log.V(1).Info("not visible")
	log.Flush()

	assert.Contains(t, buf.String(), "visible")
	assert.NotContains(t, buf.String(), "not visible")
}
