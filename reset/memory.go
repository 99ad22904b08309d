package reset

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memoryEntry struct {
	code      string
	expiresAt time.Time
	verified  bool
}

// MemoryRegistry keeps entries in a mutex-protected map. Entries do not
// survive a restart.
type MemoryRegistry struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
	logger   *zap.Logger
}

// MemoryOption customizes a MemoryRegistry.
type MemoryOption func(*MemoryRegistry)

// WithClock overrides the registry clock, used in tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRegistry) { r.now = now }
}

// WithCodeGenerator overrides code generation, used in tests.
func WithCodeGenerator(gen func() (string, error)) MemoryOption {
	return func(r *MemoryRegistry) { r.generate = gen }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) MemoryOption {
	return func(r *MemoryRegistry) { r.logger = logger }
}

// NewMemoryRegistry returns an empty registry. A non-positive ttl selects DefaultTTL.
func NewMemoryRegistry(ttl time.Duration, opts ...MemoryOption) *MemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &MemoryRegistry{
		entries:  make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
		generate: GenerateCode,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryRegistry) TTL() time.Duration { return r.ttl }

func (r *MemoryRegistry) Issue(ctx context.Context, email string) (Entry, error) {
	code, err := r.generate()
	if err != nil {
		return Entry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := memoryEntry{code: code, expiresAt: r.now().Add(r.ttl)}
	r.entries[email] = e
	return Entry{Email: email, Code: e.code, ExpiresAt: e.expiresAt}, nil
}

// liveLocked returns the entry for email, deleting it when expired. The
// caller holds mu.
func (r *MemoryRegistry) liveLocked(email string) (memoryEntry, error) {
	e, ok := r.entries[email]
	if !ok {
		return memoryEntry{}, ErrNoEntry
	}
	if r.now().After(e.expiresAt) {
		delete(r.entries, email)
		return memoryEntry{}, ErrExpired
	}
	return e, nil
}

func (r *MemoryRegistry) Verify(ctx context.Context, email, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.liveLocked(email)
	if err != nil {
		return err
	}
	if !codesEqual(e.code, code) {
		return ErrMismatch
	}
	e.verified = true
	r.entries[email] = e
	return nil
}

func (r *MemoryRegistry) Consume(ctx context.Context, email, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.liveLocked(email)
	if err != nil {
		return err
	}
	if !e.verified {
		return ErrNotVerified
	}
	if !codesEqual(e.code, code) {
		return ErrMismatch
	}
	delete(r.entries, email)
	return nil
}

func (r *MemoryRegistry) Invalidate(ctx context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, email)
	return nil
}

// Lookup returns the live entry for email without changing its state.
func (r *MemoryRegistry) Lookup(email string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.liveLocked(email)
	if err != nil {
		return Entry{}, false
	}
	return Entry{Email: email, Code: e.code, ExpiresAt: e.expiresAt, Verified: e.verified}, true
}

// Sweep purges expired entries and returns how many were removed.
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for email, e := range r.entries {
		if now.After(e.expiresAt) {
			delete(r.entries, email)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done. Reads stay correct without
// it; it only bounds memory held by abandoned resets.
func (r *MemoryRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("swept expired reset entries", zap.Int("removed", n))
			}
		}
	}
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
