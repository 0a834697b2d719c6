package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stacklight/wabridge/pkg/logger"
)

// LogSink receives classified bridge output. The default sink forwards to
// pkg/logger; tests substitute a recorder.
type LogSink interface {
	Log(level logger.Level, module, message string)
}

// LoggerSink forwards bridge output to the process-wide logger.
type LoggerSink struct{}

func (LoggerSink) Log(level logger.Level, module, message string) {
	logger.LogC(level, module, message)
}

// levelTable maps the bridge's level strings onto host log levels.
var levelTable = map[string]logger.Level{
	"debug":   logger.LevelDebug,
	"trace":   logger.LevelDebug,
	"info":    logger.LevelInfo,
	"warn":    logger.LevelWarning,
	"warning": logger.LevelWarning,
	"error":   logger.LevelError,
	"fatal":   logger.LevelCritical,
	"panic":   logger.LevelCritical,
}

// extraFields are the optional structured record fields, in render order.
var extraFields = []string{
	"method", "duration", "code", "error", "pid", "database", "address", "sub", "stack",
}

// forwardLine classifies one line of bridge output and hands it to the sink.
// Lines that fail to parse as a structured record go through verbatim at the
// default level. Malformed output is never an error.
func forwardLine(sink LogSink, line string, defaultLevel logger.Level) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		sink.Log(defaultLevel, "bridge", line)
		return
	}

	message, _ := rec["message"].(string)
	if message == "" {
		sink.Log(defaultLevel, "bridge", line)
		return
	}

	levelStr, _ := rec["level"].(string)
	level, ok := levelTable[strings.ToLower(levelStr)]
	if !ok {
		level = defaultLevel
	}

	module, _ := rec["module"].(string)
	if module == "" {
		module = "bridge"
	}

	sink.Log(level, module, message+recordSuffix(rec))
}

// recordSuffix renders the optional record fields as a " k=v" tail. The
// bridge emits some of them as numbers, so values are formatted generically.
func recordSuffix(rec map[string]interface{}) string {
	var sb strings.Builder
	for _, key := range extraFields {
		value, ok := rec[key]
		if !ok || value == nil {
			continue
		}
		text := fmt.Sprintf("%v", value)
		if text == "" {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(text)
	}
	return sb.String()
}
