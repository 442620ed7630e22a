// Package logger provides structured logging for the pathway runtime.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Pathway resolution logging (dispatches, plugin calls, errors)
//   - Automatic API key and sensitive data redaction
//   - Level-based verbosity control
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger
)

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		switch strings.ToLower(envLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// PathwayResolve logs the start of a pathway resolution with its dispatch plan.
func PathwayResolve(pathway, model string, prompts, chunks int, attrs ...any) {
	allAttrs := make([]any, 0, 8+len(attrs))
	allAttrs = append(allAttrs,
		"pathway", pathway,
		"model", model,
		"prompts", prompts,
		"chunks", chunks,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("pathway resolve", allAttrs...)
}

// PluginCall logs a model plugin dispatch.
func PluginCall(plugin, pathway, prompt string, tokens int, attrs ...any) {
	allAttrs := make([]any, 0, 8+len(attrs))
	allAttrs = append(allAttrs,
		"plugin", plugin,
		"pathway", pathway,
		"prompt", prompt,
		"tokens", tokens,
	)
	allAttrs = append(allAttrs, attrs...)
	Debug("plugin dispatch", allAttrs...)
}

// PluginError logs a failed model plugin dispatch. The error text is redacted
// first; upstream errors can echo request URLs and credentials.
func PluginError(plugin, pathway string, err error, attrs ...any) {
	errText := ""
	if err != nil {
		errText = RedactSensitiveData(err.Error())
	}
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"plugin", plugin,
		"pathway", pathway,
		"error", errText,
	)
	allAttrs = append(allAttrs, attrs...)
	Error("plugin dispatch failed", allAttrs...)
}

var (
	// apiKeyPatterns contains compiled regular expressions for detecting sensitive data.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),     // OpenAI API keys
		regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),   // Google API keys
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_-]+`), // Bearer tokens
	}
)

// RedactSensitiveData removes API keys and other sensitive information from strings.
// It replaces matched patterns with a redacted form that preserves the first few
// characters for debugging while hiding the sensitive portion.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer ") {
				return "Bearer [REDACTED]"
			}
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}
