// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides structured logging for the execution core, built on
// log/slog. It is the single place that knows how to attach job/process/step
// context to a logger and how to keep credentials out of log lines.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Standard field keys for structured logging across the core.
const (
	JobIDKey     = "job_id"
	ProcessIDKey = "process_id"
	StepIDKey    = "step_id"
	ProviderKey  = "provider_id"
	RunnerKey    = "runner"
	DurationKey  = "duration_ms"
	EventKey     = "event"
)

// Config holds logging configuration.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns sensible defaults: info level, JSON to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from WEAVER_LOG_LEVEL / WEAVER_LOG_FORMAT /
// WEAVER_LOG_SOURCE, falling back to LOG_LEVEL/LOG_FORMAT for operators
// used to the teacher daemon's variable names.
func FromEnv() *Config {
	cfg := DefaultConfig()

	if level := firstNonEmpty(os.Getenv("WEAVER_LOG_LEVEL"), os.Getenv("LOG_LEVEL")); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format := firstNonEmpty(os.Getenv("WEAVER_LOG_FORMAT"), os.Getenv("LOG_FORMAT")); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	if os.Getenv("WEAVER_LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}
	return cfg
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// New creates a logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent tags a logger with the subsystem that owns it (fetcher,
// vault, dispatcher, ...).
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithJob tags a logger with the job/process pair most log lines in the
// execution core need.
func WithJob(logger *slog.Logger, jobID, processID string) *slog.Logger {
	return logger.With(slog.String(JobIDKey, jobID), slog.String(ProcessIDKey, processID))
}

// WithStep further tags a job-scoped logger with the active step.
func WithStep(logger *slog.Logger, stepID string) *slog.Logger {
	return logger.With(slog.String(StepIDKey, stepID))
}

func Attr(key string, value any) slog.Attr { return slog.Any(key, value) }
func String(key, value string) slog.Attr   { return slog.String(key, value) }
func Int(key string, value int) slog.Attr  { return slog.Int(key, value) }
func Bool(key string, value bool) slog.Attr { return slog.Bool(key, value) }
func Error(err error) slog.Attr            { return slog.Any("error", err) }

// SanitizeSecret redacts a secret completely. Use whenever an Auth Context
// value (bearer token, Docker pull token, cookie) might otherwise reach a
// log line.
func SanitizeSecret(string) string { return "[REDACTED]" }

// SanitizeToken masks a token, keeping only the last 4 characters for
// correlating log lines with an operator-visible token without leaking it.
func SanitizeToken(token string) string {
	if len(token) <= 4 {
		return "[REDACTED]"
	}
	return "..." + token[len(token)-4:]
}
