package logx

import (
	"io"
	"os"
	"strings"
	"time"
)

// Format represents the output format
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseFormat maps a configuration string to a Format, defaulting to console.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatConsole
}

// Config holds the logger configuration
type Config struct {
	Level        Level
	Format       Format
	EnableColors bool
	EnableCaller bool
	TimeFormat   string
	Output       io.Writer
	// RedactKeys lists field keys whose values are masked before formatting.
	// Matching is case-insensitive.
	RedactKeys []string
}

// DefaultRedactKeys covers the credential material the IAM services handle.
var DefaultRedactKeys = []string{
	"password", "password_hash", "new_password",
	"token", "access_token", "refresh_token", "reset_token",
	"secret", "two_factor_secret", "backup_codes", "otp_code",
}

const redacted = "[REDACTED]"

func (c *Config) redactSet() map[string]struct{} {
	keys := c.RedactKeys
	if keys == nil {
		keys = DefaultRedactKeys
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return set
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:        LevelInfo,
		Format:       FormatConsole,
		EnableColors: true,
		TimeFormat:   time.RFC3339,
		Output:       os.Stdout,
	}
}
