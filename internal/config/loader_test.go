package config_test

import (
	"strings"
	"testing"

	"github.com/PAID-LLC/voice-talk-app/internal/config"
)

func TestValidate_DuplicateBackendNames(t *testing.T) {
	t.Parallel()
	yaml := `
capabilities:
  ai:
    - name: openai
    - name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate backend names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_BackendNameRequired(t *testing.T) {
	t.Parallel()
	yaml := `
capabilities:
  tts:
    - api_key: whoops
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unnamed backend, got nil")
	}
	if !strings.Contains(err.Error(), "name is required") {
		t.Errorf("error should mention required name, got: %v", err)
	}
}

func TestValidate_NegativeQuotaLimit(t *testing.T) {
	t.Parallel()
	yaml := `
capabilities:
  ai:
    - name: openai
      quota:
        limit: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative quota limit, got nil")
	}
	if !strings.Contains(err.Error(), "quota.limit") {
		t.Errorf("error should mention quota.limit, got: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for bad log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/ssl/cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for partial TLS config, got nil")
	}
	if !strings.Contains(err.Error(), "cert_file and key_file") {
		t.Errorf("error should mention both files, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
capabilities:
  ai:
    - name: openai
    - name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "duplicate") {
		t.Errorf("error should join both failures, got: %v", err)
	}
}

func TestValidBackendNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidBackendNames) == 0 {
		t.Fatal("ValidBackendNames should not be empty")
	}
	aiNames := config.ValidBackendNames["ai"]
	if len(aiNames) == 0 {
		t.Fatal("ValidBackendNames[\"ai\"] should not be empty")
	}
	found := false
	for _, n := range aiNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidBackendNames[\"ai\"] should contain \"openai\"")
	}
}
