package db

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"memorybox/models"
	"memorybox/utils"

	"go.uber.org/zap"
)

// Options configures a Database.
type Options struct {
	Storage  Storage
	Verifier utils.CredentialVerifier // Defaults to utils.PlainVerifier
	Logger   *zap.Logger
	Metrics  *utils.Metrics

	// SaveInterval <= 0 persists every mutation before it becomes visible.
	// A positive value debounces saves, trading durability of the last
	// interval for fewer writes.
	SaveInterval time.Duration

	Now func() time.Time // Clock override for tests
}

// Database holds the authoritative in-memory copy of the document. All
// mutations are serialized behind mu; the durable copy in storage is a mirror.
type Database struct {
	mu        sync.RWMutex
	doc       *models.Document
	usernames map[string]string // lower(username) -> email
	lastID    int64             // Last photo id issued, guarded by mu

	// generation counts committed mutations, savedGen the last one persisted.
	generation uint64
	savedGen   atomic.Uint64

	storage      Storage
	verifier     utils.CredentialVerifier
	logger       *zap.Logger
	metrics      *utils.Metrics
	saveInterval time.Duration
	now          func() time.Time

	flushMu   sync.Mutex // Serializes writes to storage in debounced mode
	saveMutex sync.Mutex // Guards saveTimer
	saveTimer *time.Timer
}

// NewDatabase loads the document from storage. When nothing is stored yet
// an empty document is created and persisted before returning.
func NewDatabase(ctx context.Context, opts Options) (*Database, error) {
	if opts.Storage == nil {
		return nil, errors.New("db: storage is required")
	}
	db := &Database{
		storage:      opts.Storage,
		verifier:     opts.Verifier,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		saveInterval: opts.SaveInterval,
		now:          opts.Now,
	}
	if db.verifier == nil {
		db.verifier = utils.PlainVerifier{}
	}
	if db.logger == nil {
		db.logger = zap.NewNop()
	}
	if db.metrics == nil {
		db.metrics = utils.NewMetrics(nil)
	}
	if db.now == nil {
		db.now = time.Now
	}

	db.logger.Info("initializing document store", zap.Stringer("storage", db.storage))
	if err := db.load(ctx); err != nil {
		db.logger.Error("document store load failed", zap.Error(err))
		return nil, err
	}
	return db, nil
}

func (db *Database) load(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, err := db.storage.Load(ctx)
	if errors.Is(err, ErrNoDocument) {
		db.logger.Info("no stored document found, initializing empty document")
		doc := models.NewDocument()
		if err := db.persistLocked(ctx, doc); err != nil {
			return err
		}
		db.commitLocked(doc)
		db.savedGen.Store(db.generation)
		return nil
	}
	if err != nil {
		return storeUnavailable("load document", err)
	}

	doc := models.NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return storeUnavailable("parse document", err)
	}
	// A stored document may carry null for either map.
	if doc.Users == nil {
		doc.Users = make(map[string]models.Account)
	}
	if doc.Photos == nil {
		doc.Photos = make(map[string][]models.Photo)
	}
	db.commitLocked(doc)
	db.savedGen.Store(db.generation)

	db.logger.Info("loaded document",
		zap.Int("users", len(doc.Users)), zap.Int("collections", len(doc.Photos)))
	return nil
}

// Snapshot returns a deep copy of the current document.
func (db *Database) Snapshot() *models.Document {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.doc.Clone()
}

// mutate applies one logical change. fn works on a copy of the document and
// reports whether it changed anything; the copy replaces the live document
// only once fn succeeded and, in write-through mode, the copy is persisted.
func (db *Database) mutate(ctx context.Context, fn func(doc *models.Document) (bool, error)) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	next := db.doc.Clone()
	changed, err := fn(next)
	if err != nil || !changed {
		return err
	}

	if db.saveInterval <= 0 {
		if err := db.persistLocked(ctx, next); err != nil {
			return err
		}
		db.commitLocked(next)
		db.savedGen.Store(db.generation)
		return nil
	}

	db.commitLocked(next)
	db.requestSave()
	return nil
}

// commitLocked installs doc as the live document and rebuilds the username index.
func (db *Database) commitLocked(doc *models.Document) {
	db.doc = doc
	db.usernames = buildUsernameIndex(doc)
	db.generation++
}

// persistLocked writes doc to storage. The caller holds mu.
func (db *Database) persistLocked(ctx context.Context, doc *models.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		db.metrics.DocumentSaves.WithLabelValues("error").Inc()
		return storeUnavailable("encode document", err)
	}
	err = db.storage.Save(ctx, data)
	db.metrics.DocumentSaves.WithLabelValues(utils.Result(err)).Inc()
	if err != nil {
		db.logger.Error("failed to persist document", zap.Error(err))
		return storeUnavailable("save document", err)
	}
	db.logger.Debug("persisted document", zap.Int("bytes", len(data)))
	return nil
}

// Flush persists the live document if it changed since the last save.
func (db *Database) Flush(ctx context.Context) error {
	db.flushMu.Lock()
	defer db.flushMu.Unlock()

	db.mu.RLock()
	gen := db.generation
	if gen == db.savedGen.Load() {
		db.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(db.doc, "", "  ")
	db.mu.RUnlock()
	if err != nil {
		db.metrics.DocumentSaves.WithLabelValues("error").Inc()
		return storeUnavailable("encode document", err)
	}

	err = db.storage.Save(ctx, data)
	db.metrics.DocumentSaves.WithLabelValues(utils.Result(err)).Inc()
	if err != nil {
		return storeUnavailable("save document", err)
	}
	db.savedGen.Store(gen)
	db.logger.Debug("flushed document", zap.Uint64("generation", gen))
	return nil
}

// Dirty reports whether committed changes are still waiting for a flush.
func (db *Database) Dirty() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.generation != db.savedGen.Load()
}

// requestSave (re)starts the debounce timer. Called with mu held.
func (db *Database) requestSave() {
	db.saveMutex.Lock()
	defer db.saveMutex.Unlock()

	if db.saveTimer != nil {
		db.saveTimer.Stop()
	}
	db.saveTimer = time.AfterFunc(db.saveInterval, func() {
		if err := db.Flush(context.Background()); err != nil {
			// Left dirty; the next mutation or Close retries.
			db.logger.Error("debounced flush failed", zap.Error(err))
		}
	})
}

// Close stops any pending debounce timer and flushes outstanding changes.
func (db *Database) Close(ctx context.Context) error {
	db.saveMutex.Lock()
	if db.saveTimer != nil {
		db.saveTimer.Stop()
		db.saveTimer = nil
	}
	db.saveMutex.Unlock()

	if err := db.Flush(ctx); err != nil {
		db.logger.Error("final flush failed", zap.Error(err))
		return err
	}
	db.logger.Info("document store closed")
	return nil
}

// --- Ordering & Indexes ---

// orderedEmails lists account keys by creation time, ties broken by email.
// It is the deterministic iteration order for every scan over accounts.
func orderedEmails(doc *models.Document) []string {
	emails := make([]string, 0, len(doc.Users))
	for email := range doc.Users {
		emails = append(emails, email)
	}
	sort.Slice(emails, func(i, j int) bool {
		a, b := doc.Users[emails[i]], doc.Users[emails[j]]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return emails[i] < emails[j]
	})
	return emails
}

// buildUsernameIndex maps lower-cased usernames to emails. On duplicates
// inherited from older documents the first account in order wins.
func buildUsernameIndex(doc *models.Document) map[string]string {
	idx := make(map[string]string, len(doc.Users))
	for _, email := range orderedEmails(doc) {
		name := strings.ToLower(doc.Users[email].Username)
		if name == "" {
			continue
		}
		if _, taken := idx[name]; !taken {
			idx[name] = email
		}
	}
	return idx
}

func (db *Database) nowMillis() int64 {
	return db.now().UnixMilli()
}
