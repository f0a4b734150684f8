package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrInvalidConfig is matched by errors.Is on every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is reports ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// ValidateConfig validates every section and reports all problems at once.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateEngine(&c.Engine)...)
	errs = append(errs, validateSurrounding(&c.Surrounding)...)
	errs = append(errs, validateModeStore(&c.ModeStore)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	if e.SocketPath == "" {
		errs = append(errs, *RequiredFieldError("engine.socket_path"))
	}

	switch strings.ToLower(e.Codec) {
	case "", "cbor", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "engine.codec",
			Message: fmt.Sprintf("invalid codec: %s (valid: cbor, json)", e.Codec),
		})
	}

	if e.TimeoutMs < 1 || e.TimeoutMs > 60000 {
		errs = append(errs, *RangeError("engine.timeout_ms", 1, 60000))
	}
	if e.ConnectTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.connect_timeout_ms",
			Message: "connect timeout cannot be negative",
		})
	}
	if e.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "engine.max_connections",
			Message: "max connections must be at least 1",
		})
	}

	return errs
}

func validateSurrounding(s *SurroundingConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Radius < 1 || s.Radius > 4096 {
		errs = append(errs, *RangeError("surrounding.radius", 1, 4096))
	}
	return errs
}

func validateModeStore(m *ModeStoreConfig) ValidationErrors {
	var errs ValidationErrors

	switch m.Backend {
	case "memory":
	case "sqlite":
		if m.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "mode_store.path",
				Message: "path is required for the sqlite backend",
			})
		}
		if m.Scope == "" {
			errs = append(errs, *RequiredFieldError("mode_store.scope"))
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "mode_store.backend",
			Message: fmt.Sprintf("invalid backend: %s (valid: memory, sqlite)", m.Backend),
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output includes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors
	if !m.Enabled {
		return errs
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.Listen, err),
		})
	}
	return errs
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
