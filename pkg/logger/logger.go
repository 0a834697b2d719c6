package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log record.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRIT"
	default:
		return "?"
	}
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	case "critical", "crit", "fatal":
		return LevelCritical
	default:
		return LevelInfo
	}
}

var (
	mu       sync.Mutex
	minLevel = LevelInfo
	out      = os.Stderr
)

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	minLevel = l
	mu.Unlock()
}

// LogC writes a message tagged with a component name.
func LogC(level Level, component, msg string) {
	LogCF(level, component, msg, nil)
}

// LogCF writes a message tagged with a component name plus structured fields.
func LogCF(level Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if level < minLevel {
		return
	}

	ts := time.Now().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s [%-5s] [%s] %s", ts, level, component, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
		}
		line += " | " + strings.Join(parts, " ")
	}

	fmt.Fprintln(out, line)
}

func DebugC(component, msg string) { LogC(LevelDebug, component, msg) }
func InfoC(component, msg string)  { LogC(LevelInfo, component, msg) }
func WarnC(component, msg string)  { LogC(LevelWarning, component, msg) }
func ErrorC(component, msg string) { LogC(LevelError, component, msg) }
func CritC(component, msg string)  { LogC(LevelCritical, component, msg) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	LogCF(LevelDebug, component, msg, fields)
}
func InfoCF(component, msg string, fields map[string]interface{}) {
	LogCF(LevelInfo, component, msg, fields)
}
func WarnCF(component, msg string, fields map[string]interface{}) {
	LogCF(LevelWarning, component, msg, fields)
}
func ErrorCF(component, msg string, fields map[string]interface{}) {
	LogCF(LevelError, component, msg, fields)
}
func CritCF(component, msg string, fields map[string]interface{}) {
	LogCF(LevelCritical, component, msg, fields)
}
