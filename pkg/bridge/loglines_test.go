package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklight/wabridge/pkg/logger"
)

type recordedLine struct {
	level   logger.Level
	module  string
	message string
}

type recordSink struct {
	mu    sync.Mutex
	lines []recordedLine
}

func (s *recordSink) Log(level logger.Level, module, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, recordedLine{level, module, message})
}

func (s *recordSink) all() []recordedLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedLine, len(s.lines))
	copy(out, s.lines)
	return out
}

func TestForwardLineStructured(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		level   logger.Level
		module  string
		message string
	}{
		{
			name:    "warn record",
			line:    `{"time":"2024-01-01T00:00:00Z","level":"warn","module":"auth","message":"token expiring"}`,
			level:   logger.LevelWarning,
			module:  "auth",
			message: "token expiring",
		},
		{
			name:    "trace maps to debug",
			line:    `{"level":"trace","module":"rpc","message":"frame"}`,
			level:   logger.LevelDebug,
			module:  "rpc",
			message: "frame",
		},
		{
			name:    "warning alias",
			line:    `{"level":"warning","module":"db","message":"slow query"}`,
			level:   logger.LevelWarning,
			module:  "db",
			message: "slow query",
		},
		{
			name:    "fatal maps to critical",
			line:    `{"level":"fatal","module":"core","message":"giving up"}`,
			level:   logger.LevelCritical,
			module:  "core",
			message: "giving up",
		},
		{
			name:    "panic maps to critical",
			line:    `{"level":"panic","module":"core","message":"boom"}`,
			level:   logger.LevelCritical,
			module:  "core",
			message: "boom",
		},
		{
			name:    "unknown level uses default",
			line:    `{"level":"notice","module":"db","message":"vacuum"}`,
			level:   logger.LevelInfo,
			module:  "db",
			message: "vacuum",
		},
		{
			name:    "missing module defaults to bridge",
			line:    `{"level":"error","message":"lost connection"}`,
			level:   logger.LevelError,
			module:  "bridge",
			message: "lost connection",
		},
		{
			name:    "numeric fields rendered in suffix",
			line:    `{"level":"info","module":"rpc","message":"handled","method":"GetChats","duration":12,"code":0}`,
			level:   logger.LevelInfo,
			module:  "rpc",
			message: "handled method=GetChats duration=12 code=0",
		},
		{
			name:    "error field rendered",
			line:    `{"level":"error","module":"store","message":"write failed","error":"disk full","database":"session.db"}`,
			level:   logger.LevelError,
			module:  "store",
			message: "write failed error=disk full database=session.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordSink{}
			forwardLine(sink, tt.line, logger.LevelInfo)

			lines := sink.all()
			require.Len(t, lines, 1)
			assert.Equal(t, tt.level, lines[0].level)
			assert.Equal(t, tt.module, lines[0].module)
			assert.Equal(t, tt.message, lines[0].message)
		})
	}
}

func TestForwardLineUnparseable(t *testing.T) {
	sink := &recordSink{}
	forwardLine(sink, "plain text output", logger.LevelWarning)

	lines := sink.all()
	require.Len(t, lines, 1)
	assert.Equal(t, logger.LevelWarning, lines[0].level)
	assert.Equal(t, "bridge", lines[0].module)
	assert.Equal(t, "plain text output", lines[0].message)
}

func TestForwardLineJSONWithoutMessage(t *testing.T) {
	sink := &recordSink{}
	line := `{"level":"info","module":"core"}`
	forwardLine(sink, line, logger.LevelInfo)

	lines := sink.all()
	require.Len(t, lines, 1)
	// No message field means the record is treated as unstructured.
	assert.Equal(t, "bridge", lines[0].module)
	assert.Equal(t, line, lines[0].message)
}

func TestForwardLineSkipsEmpty(t *testing.T) {
	sink := &recordSink{}
	forwardLine(sink, "   ", logger.LevelInfo)
	assert.Empty(t, sink.all())
}
