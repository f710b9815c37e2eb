// Package keymanager implements API key lifecycle management: create,
// validate, rotate, and compromise marking, backed by a pluggable
// KeyStore. Secrets are crypto/rand bytes encoded as unpadded
// base64url.
package keymanager

import "time"

// KeyType distinguishes the operational role of an API key.
type KeyType string

const (
	KeyTypeStandard KeyType = "standard"
	KeyTypeService  KeyType = "service"
	KeyTypeAdmin    KeyType = "admin"
)

// Strength selects the random secret's bit length.
type Strength string

const (
	StrengthLow     Strength = "low"
	StrengthMedium  Strength = "medium"
	StrengthHigh    Strength = "high"
	StrengthMaximum Strength = "maximum"
)

// Bits returns the secret length in bits for this strength tier.
func (s Strength) Bits() int {
	switch s {
	case StrengthLow:
		return 128
	case StrengthHigh:
		return 512
	case StrengthMaximum:
		return 1024
	default:
		return 256
	}
}

// Permission is a coarse capability grant on a key.
type Permission string

// ApiKey is one issued credential.
type ApiKey struct {
	ID        string
	Service   string
	Name      string
	Type      KeyType
	Secret    string // base64url of the raw random bytes
	Scopes    []string
	Perms     []Permission
	Tags      map[string]string

	IsActive     bool
	Compromised  bool
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RotatedFrom  string

	rateWindow  []time.Time // Validate calls in the trailing hour, capped by Config.PerKeyRateLimitPerHr
}

// HasScope reports whether the key carries scope.
func (k *ApiKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasPermission reports whether the key carries perm.
func (k *ApiKey) HasPermission(perm Permission) bool {
	for _, p := range k.Perms {
		if p == perm {
			return true
		}
	}
	return false
}

// ValidationError enumerates the reasons validate() can fail or warn.
type ValidationError string

const (
	ErrKeyNotFound             ValidationError = "key_not_found"
	ErrKeyCompromised          ValidationError = "key_compromised"
	ErrKeyInactive             ValidationError = "key_inactive"
	ErrKeyExpired              ValidationError = "key_expired"
	ErrServiceNotAuthorized    ValidationError = "service_not_authorized"
	ErrInvalidScope            ValidationError = "invalid_scope"
	ErrInsufficientPermissions ValidationError = "insufficient_permissions"
	ErrRateLimitExceeded       ValidationError = "rate_limit_exceeded"

	WarnKeyExpiringSoon ValidationError = "key_expiring_soon"
)

// ValidationResult is the outcome of validate(), carrying every
// applicable error rather than stopping at the first.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
	Key      *ApiKey
}

// HasError reports whether err is among the accumulated validation
// errors.
func (r ValidationResult) HasError(err ValidationError) bool {
	for _, e := range r.Errors {
		if e == err {
			return true
		}
	}
	return false
}

// ServiceLimitExceeded is returned by Create when a service already
// holds its maximum number of keys.
type ServiceLimitExceeded struct {
	Service string
	Limit   int
}

func (e *ServiceLimitExceeded) Error() string {
	return "service limit exceeded"
}
