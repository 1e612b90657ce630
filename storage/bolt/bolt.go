// Package bolt provides a bbolt-backed implementation of the storage
// interfaces for durable single-node deployments. Tool proxy records and
// nonce records live in separate buckets; bbolt's serialized update
// transactions give the nonce check-and-store its atomicity.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/JesGor/lti2-reference-tool-provider/security"
	"github.com/JesGor/lti2-reference-tool-provider/storage"
)

var (
	proxyBucket = []byte("tool_proxies")
	nonceBucket = []byte("nonces")
)

// Store is a bbolt-backed implementation of storage.ProxyStore and
// storage.NonceStore.
type Store struct {
	db        *bbolt.DB
	encryptor *security.Encryptor
	logger    *slog.Logger

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Compile-time interface checks.
var (
	_ storage.ProxyStore = (*Store)(nil)
	_ storage.NonceStore = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEncryptor enables shared secret encryption at rest.
func WithEncryptor(enc *security.Encryptor) Option {
	return func(s *Store) { s.encryptor = enc }
}

// WithCleanupInterval sets how often expired nonce records are swept.
func WithCleanupInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// Open opens (creating if necessary) a bbolt database at path and prepares
// the schema. The returned store must be closed with Close.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(proxyBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(nonceBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	s := &Store{
		db:              db,
		logger:          slog.Default(),
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()
	return s, nil
}

// Close stops the cleanup loop and closes the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	return s.db.Close()
}

// SaveProxy persists a completed tool proxy record in one transaction.
func (s *Store) SaveProxy(ctx context.Context, proxy *storage.ToolProxy) error {
	if !proxy.Complete() {
		return fmt.Errorf("refusing to save incomplete tool proxy")
	}

	record := *proxy
	if s.encryptor != nil {
		secret, err := s.encryptor.Encrypt(record.SharedSecret)
		if err != nil {
			return fmt.Errorf("encrypt shared secret: %w", err)
		}
		record.SharedSecret = secret

		half, err := s.encryptor.Encrypt(record.HalfSharedSecret)
		if err != nil {
			return fmt.Errorf("encrypt secret half: %w", err)
		}
		record.HalfSharedSecret = half
	}

	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("marshal tool proxy: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(proxyBucket).Put([]byte(record.GUID), data)
	})
	if err != nil {
		return fmt.Errorf("save tool proxy: %w", err)
	}

	s.logger.Debug("saved tool proxy", "guid", record.GUID)
	return nil
}

// GetProxy retrieves a tool proxy by GUID.
func (s *Store) GetProxy(ctx context.Context, guid string) (*storage.ToolProxy, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(proxyBucket).Get([]byte(guid)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get tool proxy: %w", err)
	}
	if data == nil {
		return nil, storage.ErrNotFound
	}

	var proxy storage.ToolProxy
	if err := json.Unmarshal(data, &proxy); err != nil {
		return nil, fmt.Errorf("unmarshal tool proxy: %w", err)
	}

	if s.encryptor != nil {
		secret, err := s.encryptor.Decrypt(proxy.SharedSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt shared secret: %w", err)
		}
		proxy.SharedSecret = secret

		half, err := s.encryptor.Decrypt(proxy.HalfSharedSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret half: %w", err)
		}
		proxy.HalfSharedSecret = half
	}

	return &proxy, nil
}

// DeleteProxy removes a tool proxy record.
func (s *Store) DeleteProxy(ctx context.Context, guid string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(proxyBucket).Delete([]byte(guid))
	})
}

// ListProxies lists all registered tool proxies.
func (s *Store) ListProxies(ctx context.Context) ([]*storage.ToolProxy, error) {
	var guids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(proxyBucket).ForEach(func(k, _ []byte) error {
			guids = append(guids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list tool proxies: %w", err)
	}

	proxies := make([]*storage.ToolProxy, 0, len(guids))
	for _, guid := range guids {
		proxy, err := s.GetProxy(ctx, guid)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		proxies = append(proxies, proxy)
	}
	return proxies, nil
}

// CheckAndStore records a nonce if unseen. The read and the write share one
// update transaction; bbolt serializes writers, so two concurrent calls with
// the same nonce cannot both succeed.
func (s *Store) CheckAndStore(ctx context.Context, nonce string, ttl time.Duration) error {
	now := time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(nonceBucket)
		key := []byte(nonce)

		if v := bucket.Get(key); v != nil {
			if expiry := decodeExpiry(v); now.Before(expiry) {
				return storage.ErrNonceSeen
			}
		}

		return bucket.Put(key, encodeExpiry(now.Add(ttl)))
	})
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpiredNonces()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanupExpiredNonces() {
	now := time.Now()
	removed := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(nonceBucket)
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if now.After(decodeExpiry(v)) {
				if err := cursor.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("nonce cleanup failed", "error", err)
		return
	}

	if removed > 0 {
		s.logger.Debug("cleaned up expired nonces", "removed", removed)
	}
}

func encodeExpiry(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeExpiry(v []byte) time.Time {
	if len(v) != 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(v)))
}
