// Package dedup provides request-fingerprint based admission
// coalescing: a second request identical to one already queued is
// dropped rather than dispatched twice.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Key fingerprints a request by method, URL, and body so that
// logically identical requests collapse to the same dedup key.
func Key(method, url, body string) string {
	h := sha256.Sum256([]byte(method + "|" + url + "|" + body))
	return hex.EncodeToString(h[:16])
}

// Deduplicator tracks which fingerprints currently have an admitted,
// still-queued instance. A duplicate request is dropped rather than
// queued, so at most one instance of any key is ever present at a
// time. It is safe for concurrent use.
type Deduplicator struct {
	mu      sync.Mutex
	present map[string]struct{}
}

// New creates an empty deduplicator.
func New() *Deduplicator {
	return &Deduplicator{present: make(map[string]struct{})}
}

// TryAdmit reports whether key is the first currently-queued instance
// of its fingerprint. If it returns true, the caller must eventually
// call Release exactly once; if false, the caller should drop the
// request silently (it is a duplicate of one already in flight).
func (d *Deduplicator) TryAdmit(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.present[key]; exists {
		return false
	}
	d.present[key] = struct{}{}
	return true
}

// Release removes the admitted instance of key, for example when its
// queued request finishes dispatching.
func (d *Deduplicator) Release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.present, key)
}

// InFlightCount returns the number of distinct fingerprints currently
// holding an admitted slot.
func (d *Deduplicator) InFlightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.present)
}
