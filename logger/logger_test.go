package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewStandardLogger(&buf)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Errorf("bad %s", "thing")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO:  shown 2")
	assert.Contains(t, out, "ERROR: bad thing")
	assert.Equal(t, 2, strings.Count(out, "\n"))
	// Timestamps are UTC
	assert.Contains(t, strings.SplitN(out, " ", 2)[0], "Z")
}

func TestVerboseLoggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewVerboseLogger(&buf).WithPrefix("[exchange] ")
	l.Debugf("tile %d", 3)
	assert.Contains(t, buf.String(), "[exchange] DEBUG: tile 3")
}

func TestBufferLogger(t *testing.T) {
	b := NewBufferLogger()
	b.Warnf("careful")
	b.WithPrefix("x").Infof("ok")
	assert.Equal(t, "WARN:  careful\nINFO:  ok\n", b.String())

	NopLogger.Errorf("nothing")
}
