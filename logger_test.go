package vex

import (
	"bytes"
	"log"
	"testing"

	"github.com/vexhttp/vex/internal/tests"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &logger{l: log.New(&buf, "", 0)}
	l.Errorf("boom %d", 1)
	l.Warnf("careful")
	l.Debugf("noise")
	out := buf.String()
	tests.AssertContains(t, out, "error [vex] boom 1", true)
	tests.AssertContains(t, out, "warn [vex] careful", true)
	tests.AssertContains(t, out, "debug [vex] noise", true)
}

func TestDisableLogger(t *testing.T) {
	var l Logger = &disableLogger{}
	l.Errorf("nothing")
	l.Warnf("nothing")
	l.Debugf("nothing")
}
