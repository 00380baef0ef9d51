package main

import (
	"strings"
	"testing"

	"dhabapos/backend/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: ""}); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
	if err := validateSecurityConfig(config.Config{AuthSecret: strings.Repeat("a", 32)}); err != nil {
		t.Fatalf("expected 32-char secret to pass, got %v", err)
	}
}
