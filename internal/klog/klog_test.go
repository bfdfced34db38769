package klog

import (
	"strings"
	"testing"
)

type bufSink struct {
	b strings.Builder
}

func (s *bufSink) Putc(c byte) { s.b.WriteByte(c) }

func TestLogLevelFilter(t *testing.T) {
	s := &bufSink{}
	Init(s)
	defer Init(nil)

	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Info("should not appear")
	if s.b.Len() != 0 {
		t.Fatalf("expected nothing logged below minimum level, got %q", s.b.String())
	}

	Error("boom", "code", uint64(7))
	if !strings.Contains(s.b.String(), "[ERROR] boom code=7") {
		t.Fatalf("unexpected log line: %q", s.b.String())
	}
}
