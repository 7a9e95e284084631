// Package config holds the session's external configuration options
// (§6) and validates them into a fatal ConfigError before anything else
// runs, mirroring the teacher's internal/app.Config + flag-wiring split.
package config

import (
	"fmt"
	"time"

	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
)

// Options is the fully resolved configuration for one session or group
// run. Zero value is not valid; use Default() and override fields.
type Options struct {
	Mechanism             domain.Mechanism
	Role                  domain.Role
	RSABits               int
	RekeyInterval         time.Duration
	RekeyCounterThreshold uint32
	MaxRecordBytes        uint32
	BindSeqAAD            bool
	HandshakeTimeout      time.Duration
	IdleTimeout           time.Duration
	Members               []domain.Member
	GroupKeyFile          string
}

// Default returns the option set with every spec.md §6 default applied.
func Default() Options {
	return Options{
		Mechanism:             domain.MechanismKeyAgreement,
		Role:                  domain.RoleInitiator,
		RSABits:               2048,
		RekeyInterval:         600 * time.Second,
		RekeyCounterThreshold: 1 << 20,
		MaxRecordBytes:        1 << 20,
		BindSeqAAD:            false,
		HandshakeTimeout:      10 * time.Second,
		IdleTimeout:           60 * time.Second,
	}
}

// Validate checks every option against §6's recognized values, returning
// a *errs.Error of KindConfigError describing the first violation found.
func (o Options) Validate() error {
	switch o.Mechanism {
	case domain.MechanismKeyTransport, domain.MechanismKeyAgreement, domain.MechanismGroup:
	default:
		return configErr(fmt.Errorf("mechanism %q is not one of key-transport, key-agreement, group", o.Mechanism))
	}

	switch o.Role {
	case domain.RoleInitiator, domain.RoleListener, domain.RoleLeader, domain.RoleMember, domain.RoleRelay:
	default:
		return configErr(fmt.Errorf("role %q is not one of initiator, listener, leader, member, relay", o.Role))
	}

	if o.Mechanism == domain.MechanismKeyTransport {
		if o.RSABits != 2048 && o.RSABits != 3072 {
			return configErr(fmt.Errorf("rsa_bits %d must be 2048 or 3072", o.RSABits))
		}
	}

	if o.RekeyInterval < time.Second {
		return configErr(fmt.Errorf("rekey_interval_s must be >= 1, got %s", o.RekeyInterval))
	}
	if o.RekeyCounterThreshold == 0 || o.RekeyCounterThreshold > 1<<31 {
		return configErr(fmt.Errorf("rekey_counter_threshold must be in (0, 2^31], got %d", o.RekeyCounterThreshold))
	}
	if o.MaxRecordBytes < 12 {
		return configErr(fmt.Errorf("max_record_bytes must be >= 12, got %d", o.MaxRecordBytes))
	}

	if o.Role == domain.RoleLeader && len(o.Members) == 0 {
		return configErr(fmt.Errorf("role leader requires a non-empty members list"))
	}
	for i, m := range o.Members {
		if m.NodeID == "" || m.Address == "" {
			return configErr(fmt.Errorf("members[%d] requires both node_id and address", i))
		}
	}

	return nil
}

func configErr(cause error) error {
	return errs.New(errs.KindConfigError, "", cause)
}
