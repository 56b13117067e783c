// Package credential provides tenant credential value types and pure
// validation functions. This package has NO dependencies on I/O.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Live and sandbox key prefixes. A sandbox key never touches real pools.
const (
	PrefixLive    = "sk_live_"
	PrefixSandbox = "sk_test_"
)

// lookupPrefixLen is how many leading characters of a raw key are stored in
// clear for database lookup.
const lookupPrefixLen = 12

// Credential identifies a billable caller (immutable value type).
type Credential struct {
	ID               string
	TenantID         string
	Hash             []byte // bcrypt hash of the full raw key
	Prefix           string // first 12 chars of the raw key, for lookup
	Name             string
	PlanTier         string
	MonthlyLimit     int64 // billable units per cycle, -1 = unlimited
	MonthlyUsed      int64
	PurchasedCredits int64 // top-up balance, never auto-reset
	ResetAt          time.Time
	Sandbox          bool
	Active           bool
	CreatedAt        time.Time
	LastUsedAt       *time.Time
}

// ValidationResult represents the outcome of credential validation.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// Reasons for validation failure.
const (
	ReasonNotFound  = "key_not_found"
	ReasonInactive  = "key_inactive"
	ReasonBadFormat = "invalid_format"
	ReasonSuspended = "account_suspended"
)

// Validate checks whether a credential may be used at the given time.
// This is a pure function.
func Validate(c Credential, now time.Time) ValidationResult {
	if !c.Active {
		return ValidationResult{Valid: false, Reason: ReasonInactive}
	}
	return ValidationResult{Valid: true}
}

// ValidateFormat checks the shape of a raw API key and extracts the lookup
// prefix. A key is prefix + 64 hex characters.
func ValidateFormat(rawKey string) (prefix string, valid bool) {
	var keyPrefix string
	switch {
	case strings.HasPrefix(rawKey, PrefixLive):
		keyPrefix = PrefixLive
	case strings.HasPrefix(rawKey, PrefixSandbox):
		keyPrefix = PrefixSandbox
	default:
		return "", false
	}

	if len(rawKey) < len(keyPrefix)+64 {
		return "", false
	}

	return rawKey[:lookupPrefixLen], true
}

// IsSandboxKey reports whether a raw key is a sandbox key by prefix.
func IsSandboxKey(rawKey string) bool {
	return strings.HasPrefix(rawKey, PrefixSandbox)
}

// Generate creates a new credential. Returns the raw key (shown to the
// tenant exactly once) and the Credential to store. sandbox selects the
// sk_test_ prefix.
func Generate(tenantID, planTier string, sandbox bool) (rawKey string, c Credential) {
	keyPrefix := PrefixLive
	if sandbox {
		keyPrefix = PrefixSandbox
	}

	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	rawKey = keyPrefix + hex.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt failed: %v", err))
	}

	idBytes := make([]byte, 8)
	rand.Read(idBytes)

	c = Credential{
		ID:        "key_" + hex.EncodeToString(idBytes),
		TenantID:  tenantID,
		Hash:      hash,
		Prefix:    rawKey[:lookupPrefixLen],
		PlanTier:  planTier,
		Sandbox:   sandbox,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	return rawKey, c
}

// Matches reports whether a raw key corresponds to this credential's hash.
func (c Credential) Matches(rawKey string) bool {
	return bcrypt.CompareHashAndPassword(c.Hash, []byte(rawKey)) == nil
}
