package config

import "fmt"

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.RedisAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "REDIS_ADDR",
			Message: "required",
		})
	}

	if cfg.ChunkSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "CHUNK_SIZE",
			Message: "must be positive",
		})
	}
	if cfg.QueryAllWorkers <= 0 {
		errs = append(errs, ValidationError{
			Field:   "QUERY_ALL_WORKERS",
			Message: "must be positive",
		})
	}
	if cfg.QueryAppWorkers <= 0 {
		errs = append(errs, ValidationError{
			Field:   "QUERY_APP_WORKERS",
			Message: "must be positive",
		})
	}

	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "CIRCUIT_BREAKER_THRESHOLD",
			Message: "must not be negative",
		})
	}
	if cfg.CircuitBreakerThreshold > 0 && cfg.CircuitBreakerCooldown <= 0 {
		errs = append(errs, ValidationError{
			Field:   "CIRCUIT_BREAKER_COOLDOWN",
			Message: "must be positive when the circuit breaker is enabled",
		})
	}

	if cfg.SweeperEnabled && cfg.SweepInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "SWEEP_INTERVAL",
			Message: "must be positive when the sweeper is enabled",
		})
	}
	if cfg.SweeperEnabled && cfg.SweeperLockKey == "" {
		errs = append(errs, ValidationError{
			Field:   "SWEEPER_LOCK_KEY",
			Message: "required when the sweeper is enabled",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
