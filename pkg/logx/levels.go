package logx

import (
	"fmt"
	"strings"
)

// Level orders severities. A logger drops entries below its own level.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	// LevelOff silences the logger; no entry is ever emitted at it.
	LevelOff
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
	LevelOff:   "OFF",
}

// levelAliases accepts the spellings operators put in TENANTCORE_LOG_LEVEL.
var levelAliases = map[string]Level{
	"WARNING":  LevelWarn,
	"ERR":      LevelError,
	"DISABLED": LevelOff,
	"NONE":     LevelOff,
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", uint8(l))
}

// ParseLevel reads a configured level name. Unknown names fall back to info
// so a typo never silences the audit trail.
func ParseLevel(name string) Level {
	name = strings.ToUpper(strings.TrimSpace(name))
	for l, n := range levelNames {
		if n == name {
			return l
		}
	}
	if l, ok := levelAliases[name]; ok {
		return l
	}
	return LevelInfo
}

// Enabled reports whether an entry at target passes a logger set to l.
func (l Level) Enabled(target Level) bool {
	return target < LevelOff && l <= target
}
