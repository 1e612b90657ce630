package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JesGor/lti2-reference-tool-provider/security"
	"github.com/JesGor/lti2-reference-tool-provider/storage"
)

// Store is an in-memory implementation of storage.ProxyStore and
// storage.NonceStore.
type Store struct {
	mu sync.RWMutex

	// proxies maps GUID -> record. Shared secrets are encrypted at rest
	// if an encryptor is set.
	proxies map[string]*storage.ToolProxy

	// nonces maps nonce value -> expiry time.
	nonces map[string]time.Time

	encryptor *security.Encryptor

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.ProxyStore = (*Store)(nil)
	_ storage.NonceStore = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval for expired nonce records.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		proxies:         make(map[string]*storage.ToolProxy),
		nonces:          make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()
	return s
}

// SetLogger sets the logger used by the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables shared secret encryption at rest. Must be called
// before the store is used.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptor = enc
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// SaveProxy persists a completed tool proxy record in a single write.
func (s *Store) SaveProxy(ctx context.Context, proxy *storage.ToolProxy) error {
	if !proxy.Complete() {
		return fmt.Errorf("refusing to save incomplete tool proxy")
	}

	// Copy before encrypting so the caller's record is left untouched.
	record := *proxy
	if s.encryptor != nil {
		encrypted, err := s.encryptor.Encrypt(record.SharedSecret)
		if err != nil {
			return fmt.Errorf("encrypt shared secret: %w", err)
		}
		record.SharedSecret = encrypted

		encryptedHalf, err := s.encryptor.Encrypt(record.HalfSharedSecret)
		if err != nil {
			return fmt.Errorf("encrypt secret half: %w", err)
		}
		record.HalfSharedSecret = encryptedHalf
	}

	s.mu.Lock()
	s.proxies[record.GUID] = &record
	s.mu.Unlock()

	s.logger.Debug("saved tool proxy", "guid", record.GUID)
	return nil
}

// GetProxy retrieves a tool proxy by GUID.
func (s *Store) GetProxy(ctx context.Context, guid string) (*storage.ToolProxy, error) {
	s.mu.RLock()
	record, ok := s.proxies[guid]
	s.mu.RUnlock()

	if !ok {
		return nil, storage.ErrNotFound
	}

	// Copy so callers can't mutate the stored record.
	proxy := *record
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
	s.mu.Lock()
	delete(s.proxies, guid)
	s.mu.Unlock()
	return nil
}

// ListProxies lists all registered tool proxies.
func (s *Store) ListProxies(ctx context.Context) ([]*storage.ToolProxy, error) {
	s.mu.RLock()
	guids := make([]string, 0, len(s.proxies))
	for guid := range s.proxies {
		guids = append(guids, guid)
	}
	s.mu.RUnlock()

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

// CheckAndStore atomically records a nonce if it has not been seen. The
// check and the write happen under one lock, so of two concurrent calls
// with the same nonce exactly one succeeds.
func (s *Store) CheckAndStore(ctx context.Context, nonce string, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.nonces[nonce]; ok && now.Before(expiry) {
		return storage.ErrNonceSeen
	}

	s.nonces[nonce] = now.Add(ttl)
	return nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for nonce, expiry := range s.nonces {
		if now.After(expiry) {
			delete(s.nonces, nonce)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("cleaned up expired nonces", "removed", removed, "remaining", len(s.nonces))
	}
}
