package credentials

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"tradedash-client/internal/logging"
)

var (
	ErrInvalidPair = errors.New("credential pair requires an access token")
	// ErrNotPersisted wraps a backend failure after the in-memory pair was
	// already replaced or cleared.
	ErrNotPersisted = errors.New("credentials not persisted")
)

// Pair is the access/refresh credential pair. It is only ever replaced as a
// whole.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type ChangeKind int

const (
	ChangeSet ChangeKind = iota
	ChangeCleared
	ChangeReloaded
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSet:
		return "set"
	case ChangeCleared:
		return "cleared"
	case ChangeReloaded:
		return "reloaded"
	default:
		return "unknown"
	}
}

type Change struct {
	Kind          ChangeKind
	Authenticated bool
}

// Backend is durable storage for the pair. Load on an empty backend returns
// a zero Pair and no error.
type Backend interface {
	Load() (Pair, error)
	Save(Pair) error
	Remove() error
}

// Store is the single holder of the current credential pair, shared by the
// request client and the realtime manager.
type Store struct {
	backend Backend
	logger  *logging.Logger

	mu   sync.RWMutex
	pair Pair

	observersMu sync.Mutex
	nextID      int
	observers   map[int]func(Change)
}

// NewStore loads any persisted pair from backend. A nil backend keeps the
// pair in memory only.
func NewStore(backend Backend, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		panic("credentials.NewStore: logger must not be nil")
	}
	s := &Store{backend: backend, logger: logger, observers: map[int]func(Change){}}
	if backend == nil {
		return s, nil
	}
	pair, err := backend.Load()
	if err != nil {
		return nil, err
	}
	s.pair = normalize(pair)
	logger.Debug("credential store loaded",
		logging.Field("authenticated", s.pair.AccessToken != ""),
		logging.Field("has_refresh_token", s.pair.RefreshToken != ""),
	)
	return s, nil
}

func (s *Store) Get() (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair.AccessToken == "" {
		return Pair{}, false
	}
	return s.pair, true
}

func (s *Store) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.AccessToken, s.pair.AccessToken != ""
}

func (s *Store) RefreshToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.RefreshToken, s.pair.RefreshToken != ""
}

// IsAuthenticated reports whether an access token is held. Expiry is not
// checked.
func (s *Store) IsAuthenticated() bool {
	_, ok := s.AccessToken()
	return ok
}

// Set replaces both tokens. The in-memory pair is updated even when
// persisting fails; that error is returned wrapping ErrNotPersisted.
func (s *Store) Set(pair Pair) error {
	pair = normalize(pair)
	if pair.AccessToken == "" {
		return ErrInvalidPair
	}
	s.mu.Lock()
	s.pair = pair
	var err error
	if s.backend != nil {
		err = s.backend.Save(pair)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("failed to persist credentials", logging.Field("error", err))
		err = fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	s.logger.Debug("credentials replaced", logging.Field("access_token", logging.Redact(pair.AccessToken)))
	s.publish(Change{Kind: ChangeSet, Authenticated: true})
	return err
}

// Clear drops both tokens from memory and durable storage. Clearing an empty
// store is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	hadPair := s.pair != (Pair{})
	s.pair = Pair{}
	var err error
	if s.backend != nil {
		err = s.backend.Remove()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("failed to remove persisted credentials", logging.Field("error", err))
		err = fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	if hadPair {
		s.logger.Debug("credentials cleared")
		s.publish(Change{Kind: ChangeCleared})
	}
	return err
}

// Reload re-reads the backend, picking up changes written by another
// process.
func (s *Store) Reload() error {
	if s.backend == nil {
		return nil
	}
	// s.mu spans Load: a concurrent Set or Clear lands before the read or
	// after the assignment, never in between
	s.mu.Lock()
	pair, err := s.backend.Load()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	pair = normalize(pair)
	previous := s.pair
	if pair.RefreshToken == "" && pair.AccessToken == previous.AccessToken {
		// refresh token not persisted: keep the in-memory one
		pair.RefreshToken = previous.RefreshToken
	}
	s.pair = pair
	s.mu.Unlock()

	switch {
	case pair == previous:
		return nil
	case pair.AccessToken == "":
		s.logger.Info("credentials removed externally")
		s.publish(Change{Kind: ChangeCleared})
	default:
		s.logger.Debug("credentials reloaded", logging.Field("access_token", logging.Redact(pair.AccessToken)))
		s.publish(Change{Kind: ChangeReloaded, Authenticated: true})
	}
	return nil
}

func (s *Store) Subscribe(fn func(Change)) func() {
	if fn == nil {
		panic("credentials.Store.Subscribe: callback must not be nil")
	}
	s.observersMu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.observersMu.Unlock()
	return func() {
		s.observersMu.Lock()
		delete(s.observers, id)
		s.observersMu.Unlock()
	}
}

func (s *Store) publish(change Change) {
	s.observersMu.Lock()
	callbacks := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		callbacks = append(callbacks, fn)
	}
	s.observersMu.Unlock()
	for _, fn := range callbacks {
		fn(change)
	}
}

func normalize(pair Pair) Pair {
	pair.AccessToken = strings.TrimSpace(pair.AccessToken)
	pair.RefreshToken = strings.TrimSpace(pair.RefreshToken)
	if pair.AccessToken == "" {
		return Pair{}
	}
	return pair
}
