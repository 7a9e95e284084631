package config_test

import (
	"testing"

	"securestream/internal/config"
	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
)

func TestDefaultIsValid(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("Default(): %v", err)
	}
}

func TestValidateRejectsBadMechanism(t *testing.T) {
	o := config.Default()
	o.Mechanism = "not-a-mechanism"
	err := o.Validate()
	if !errs.Is(err, errs.KindConfigError) {
		t.Fatalf("expected KindConfigError, got %v", err)
	}
}

func TestValidateRejectsBadRSABits(t *testing.T) {
	o := config.Default()
	o.Mechanism = domain.MechanismKeyTransport
	o.RSABits = 1024
	if err := o.Validate(); !errs.Is(err, errs.KindConfigError) {
		t.Fatalf("expected KindConfigError, got %v", err)
	}
}

func TestValidateRequiresMembersForLeader(t *testing.T) {
	o := config.Default()
	o.Role = domain.RoleLeader
	if err := o.Validate(); !errs.Is(err, errs.KindConfigError) {
		t.Fatalf("expected KindConfigError, got %v", err)
	}
	o.Members = []domain.Member{{NodeID: "n1", Address: "127.0.0.1:9000"}}
	if err := o.Validate(); err != nil {
		t.Fatalf("expected valid config with members, got %v", err)
	}
}

func TestValidateRejectsZeroCounterThreshold(t *testing.T) {
	o := config.Default()
	o.RekeyCounterThreshold = 0
	if err := o.Validate(); !errs.Is(err, errs.KindConfigError) {
		t.Fatalf("expected KindConfigError, got %v", err)
	}
}
