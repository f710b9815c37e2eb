package keymanager

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config controls lifetime defaults and limits.
type Config struct {
	MaxKeysPerService    int
	DefaultLifetime      time.Duration
	DefaultStrength      Strength
	EnableBackupKeys     bool
	RotationInterval     time.Duration
	WarningPeriod        time.Duration
	PerKeyRateLimitPerHr int
}

// AuditEvent records a lifecycle action for external audit sinks.
type AuditEvent struct {
	KeyID   string
	Service string
	Action  string
	Reason  string
	At      time.Time
}

// KeyManager implements create/validate/rotate/mark_compromised over
// a pluggable KeyStore.
type KeyManager struct {
	mu     sync.Mutex
	cfg    Config
	store  KeyStore
	logger zerolog.Logger

	audit []AuditEvent

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a key manager over store.
func New(cfg Config, store KeyStore, logger zerolog.Logger) *KeyManager {
	if cfg.DefaultStrength == "" {
		cfg.DefaultStrength = StrengthMedium
	}
	return &KeyManager{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "keymanager").Logger(),
		stopCh: make(chan struct{}),
	}
}

// StartRotationTimer launches the periodic rotate_expired_keys sweep.
// Its lifetime is bound to the manager: Stop guarantees it halts.
func (m *KeyManager) StartRotationTimer() {
	if m.cfg.RotationInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.RotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.RotateExpiredKeys()
			}
		}
	}()
}

// Stop halts the rotation timer.
func (m *KeyManager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Create issues a new key for service, rejecting if the service is
// already at its key limit.
func (m *KeyManager) Create(service, name string, keyType KeyType, scopes []string, perms []Permission, expiresAt *time.Time) (*ApiKey, error) {
	m.mu.Lock()
	existing := m.store.List(service)
	if m.cfg.MaxKeysPerService > 0 && len(existing) >= m.cfg.MaxKeysPerService {
		m.mu.Unlock()
		return nil, &ServiceLimitExceeded{Service: service, Limit: m.cfg.MaxKeysPerService}
	}
	m.mu.Unlock()

	secret, err := generateSecret(m.cfg.DefaultStrength)
	if err != nil {
		return nil, err
	}

	exp := time.Now().Add(m.cfg.DefaultLifetime)
	if expiresAt != nil {
		exp = *expiresAt
	}

	key := &ApiKey{
		ID:        uuid.NewString(),
		Service:   service,
		Name:      name,
		Type:      keyType,
		Secret:    secret,
		Scopes:    scopes,
		Perms:     perms,
		Tags:      map[string]string{},
		IsActive:  true,
		CreatedAt: time.Now(),
		ExpiresAt: exp,
	}

	if err := m.store.Put(key); err != nil {
		return nil, err
	}
	m.recordAudit(key.ID, service, "create", "")
	return key, nil
}

// Validate checks value against required scopes and permissions,
// accumulating every applicable error rather than stopping at the
// first.
func (m *KeyManager) Validate(value, service string, requiredScopes []string, requiredPerms []Permission) ValidationResult {
	key, ok := m.store.FindBySecret(value)
	if !ok {
		return ValidationResult{Valid: false, Errors: []ValidationError{ErrKeyNotFound}}
	}

	result := ValidationResult{Valid: true, Key: key}

	if key.Compromised {
		result.Errors = append(result.Errors, ErrKeyCompromised)
	}
	if !key.IsActive {
		result.Errors = append(result.Errors, ErrKeyInactive)
	}
	if !key.ExpiresAt.IsZero() && time.Now().After(key.ExpiresAt) {
		result.Errors = append(result.Errors, ErrKeyExpired)
	}
	if service != "" && key.Service != service {
		result.Errors = append(result.Errors, ErrServiceNotAuthorized)
	}
	for _, scope := range requiredScopes {
		if !key.HasScope(scope) {
			result.Errors = append(result.Errors, ErrInvalidScope)
			break
		}
	}
	for _, perm := range requiredPerms {
		if !key.HasPermission(perm) {
			result.Errors = append(result.Errors, ErrInsufficientPermissions)
			break
		}
	}
	if m.cfg.PerKeyRateLimitPerHr > 0 && !m.admitRate(key) {
		result.Errors = append(result.Errors, ErrRateLimitExceeded)
	}

	if m.cfg.WarningPeriod > 0 && !key.ExpiresAt.IsZero() {
		if until := time.Until(key.ExpiresAt); until > 0 && until <= m.cfg.WarningPeriod {
			result.Warnings = append(result.Warnings, WarnKeyExpiringSoon)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (m *KeyManager) admitRate(key *ApiKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	pruned := key.rateWindow[:0]
	for _, t := range key.rateWindow {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	key.rateWindow = pruned

	if len(key.rateWindow) >= m.cfg.PerKeyRateLimitPerHr {
		return false
	}
	key.rateWindow = append(key.rateWindow, time.Now())
	return true
}

// Rotate replaces id with a freshly-secreted key carrying identical
// scopes, perms, and metadata. The old key is retained inactive (when
// EnableBackupKeys) or deleted outright.
func (m *KeyManager) Rotate(id, reason string) (*ApiKey, error) {
	old, ok := m.store.Get(id)
	if !ok {
		return nil, errKeyNotFound
	}

	secret, err := generateSecret(m.cfg.DefaultStrength)
	if err != nil {
		return nil, err
	}

	next := &ApiKey{
		ID:          uuid.NewString(),
		Service:     old.Service,
		Name:        old.Name,
		Type:        old.Type,
		Secret:      secret,
		Scopes:      old.Scopes,
		Perms:       old.Perms,
		Tags:        old.Tags,
		IsActive:    true,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(m.cfg.DefaultLifetime),
		RotatedFrom: old.ID,
	}
	if err := m.store.Put(next); err != nil {
		return nil, err
	}

	if m.cfg.EnableBackupKeys {
		old.IsActive = false
		old.Name = old.Name + "-backup-" + next.ID[:8]
		_ = m.store.Put(old)
	} else {
		_ = m.store.Delete(old.ID)
	}

	m.recordAudit(next.ID, next.Service, "rotate", reason)
	return next, nil
}

// RotateExpiredKeys rotates every active, expired key across all
// services. Returns the number rotated.
func (m *KeyManager) RotateExpiredKeys() int {
	rotated := 0
	for _, key := range m.store.List("") {
		if key.IsActive && !key.ExpiresAt.IsZero() && time.Now().After(key.ExpiresAt) {
			if _, err := m.Rotate(key.ID, "expired"); err == nil {
				rotated++
			}
		}
	}
	return rotated
}

// MarkCompromised flags id as compromised; every subsequent Validate
// call against it fails with KeyCompromised.
func (m *KeyManager) MarkCompromised(id, reason string) error {
	key, ok := m.store.Get(id)
	if !ok {
		return errKeyNotFound
	}
	key.IsActive = false
	key.Compromised = true
	if err := m.store.Put(key); err != nil {
		return err
	}
	m.recordAudit(id, key.Service, "mark_compromised", reason)
	return nil
}

func (m *KeyManager) recordAudit(keyID, service, action, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, AuditEvent{KeyID: keyID, Service: service, Action: action, Reason: reason, At: time.Now()})
	m.logger.Debug().Str("key_id", keyID).Str("service", service).Str("action", action).Msg("key manager audit event")
}

// AuditLog returns a copy of every recorded audit event.
func (m *KeyManager) AuditLog() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEvent, len(m.audit))
	copy(out, m.audit)
	return out
}

type keyManagerError string

func (e keyManagerError) Error() string { return string(e) }

const errKeyNotFound = keyManagerError("key not found")

func generateSecret(strength Strength) (string, error) {
	buf := make([]byte, strength.Bits()/8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
