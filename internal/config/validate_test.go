package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		RedisAddr:               "redis-primary:6379",
		ChunkSize:               75,
		QueryAllWorkers:         10,
		QueryAppWorkers:         25,
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  2 * time.Minute,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_MissingRedisAddr(t *testing.T) {
	cfg := validConfig()
	cfg.RedisAddr = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing REDIS_ADDR")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Errorf("error should mention REDIS_ADDR: %q", err.Error())
	}
}

func TestValidate_NonPositiveWorkerCounts(t *testing.T) {
	cfg := validConfig()
	cfg.ChunkSize = 0
	cfg.QueryAllWorkers = -1
	cfg.QueryAppWorkers = 0

	err := Validate(cfg)
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 3 {
		t.Errorf("expected 3 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestValidate_CircuitBreakerCooldownRequiredWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.CircuitBreakerCooldown = 0

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "CIRCUIT_BREAKER_COOLDOWN") {
		t.Fatalf("expected CIRCUIT_BREAKER_COOLDOWN error, got %v", err)
	}
}

func TestValidate_CircuitBreakerDisabledSkipsCooldownCheck(t *testing.T) {
	cfg := validConfig()
	cfg.CircuitBreakerThreshold = 0
	cfg.CircuitBreakerCooldown = 0

	if err := Validate(cfg); err != nil {
		t.Errorf("disabled circuit breaker should not require a cooldown: %v", err)
	}
}

func TestValidate_SweeperRequiresIntervalAndLockKey(t *testing.T) {
	cfg := validConfig()
	cfg.SweeperEnabled = true

	err := Validate(cfg)
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 validation errors (interval + lock key), got %d: %v", len(errs), errs)
	}
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Field: "REDIS_ADDR", Message: "required"}
	got := err.Error()
	want := "REDIS_ADDR: required"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Format(t *testing.T) {
	single := ValidationErrors{{Field: "F1", Message: "M1"}}
	if single.Error() != "F1: M1" {
		t.Errorf("single error = %q, want 'F1: M1'", single.Error())
	}

	multi := ValidationErrors{
		{Field: "F1", Message: "M1"},
		{Field: "F2", Message: "M2"},
	}
	got := multi.Error()
	if !strings.Contains(got, "2 validation errors") {
		t.Errorf("multi error should contain '2 validation errors': %q", got)
	}
	if !strings.Contains(got, "F1: M1") || !strings.Contains(got, "F2: M2") {
		t.Errorf("multi error should contain both errors: %q", got)
	}

	empty := ValidationErrors{}
	if empty.Error() != "" {
		t.Errorf("empty errors should return empty string, got %q", empty.Error())
	}
}
