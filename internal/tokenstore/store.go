package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store is the token store (C1): loads account records from a directory of
// JSON files, hands out immutable ProxyToken snapshots, and persists
// credential/project_id updates back to the same file atomically.
type Store struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	tokens map[string]ProxyToken

	watcher *fsnotify.Watcher

	// Removed hooks let C2/C3/C4 evict their own per-account state when an
	// account is removed, without tokenstore importing those packages.
	removeHooksMu sync.Mutex
	removeHooks   []func(accountID string)
}

// New creates a Store rooted at dir. Call LoadAll before use.
func New(dir string, logger *zap.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger,
		tokens: make(map[string]ProxyToken),
	}
}

// OnRemove registers a callback invoked whenever RemoveAccount runs, so other
// subsystems (rate-limit tracker, circuit breaker, session pins, health
// scores, active-request counters) can evict their own entries.
func (s *Store) OnRemove(fn func(accountID string)) {
	s.removeHooksMu.Lock()
	defer s.removeHooksMu.Unlock()
	s.removeHooks = append(s.removeHooks, fn)
}

// LoadAll reads every *.json file under dir. Missing/unparseable records are
// logged and skipped rather than failing the whole load.
func (s *Store) LoadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.tokens = make(map[string]ProxyToken)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read accounts dir: %w", err)
	}

	loaded := make(map[string]ProxyToken)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		tok, ok := s.loadOne(path)
		if !ok {
			continue
		}
		loaded[tok.AccountID] = tok
	}

	s.mu.Lock()
	s.tokens = loaded
	s.mu.Unlock()
	return nil
}

func (s *Store) loadOne(path string) (ProxyToken, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("skip unreadable account record", zap.String("path", path), zap.Error(err))
		return ProxyToken{}, false
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		s.logger.Warn("skip unparseable account record", zap.String("path", path), zap.Error(err))
		return ProxyToken{}, false
	}
	if r.ID == "" {
		s.logger.Warn("skip account record with empty id", zap.String("path", path))
		return ProxyToken{}, false
	}
	return fromRecord(path, r), true
}

// ReloadAccount re-reads a single account's file from disk.
func (s *Store) ReloadAccount(accountID string) error {
	path := filepath.Join(s.dir, accountID+".json")
	tok, ok := s.loadOne(path)
	if !ok {
		return fmt.Errorf("tokenstore: account %s could not be reloaded", accountID)
	}
	s.mu.Lock()
	s.tokens[accountID] = tok
	s.mu.Unlock()
	return nil
}

// HasAccount reports whether accountID is currently loaded.
func (s *Store) HasAccount(accountID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[accountID]
	return ok
}

// RemoveAccount evicts an account from the in-memory snapshot and fires the
// removal hooks so session pins, breaker entries, active-request counters,
// and health scores are cleaned up elsewhere.
func (s *Store) RemoveAccount(accountID string) {
	s.mu.Lock()
	delete(s.tokens, accountID)
	s.mu.Unlock()

	s.removeHooksMu.Lock()
	hooks := append([]func(string){}, s.removeHooks...)
	s.removeHooksMu.Unlock()
	for _, h := range hooks {
		h(accountID)
	}
}

// Snapshot returns a copy of all currently loaded tokens.
func (s *Store) Snapshot() []ProxyToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProxyToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	return out
}

// Get returns a single token by account id.
func (s *Store) Get(accountID string) (ProxyToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[accountID]
	return t, ok
}

// Persist writes back the (possibly refreshed) token fields and project_id
// to its file, atomically (write-tmp-then-rename) and without clobbering
// fields the store itself doesn't model (the record is re-read, patched,
// and re-written rather than fully regenerated).
func (s *Store) Persist(tok ProxyToken) error {
	s.mu.Lock()
	s.tokens[tok.AccountID] = tok
	s.mu.Unlock()

	path := filepath.Join(s.dir, tok.AccountID+".json")

	var merged map[string]interface{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &merged)
	}
	if merged == nil {
		merged = map[string]interface{}{}
	}

	patch := tok.toRecord()
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal account patch: %w", err)
	}
	var patchMap map[string]interface{}
	if err := json.Unmarshal(patchBytes, &patchMap); err != nil {
		return fmt.Errorf("remarshal account patch: %w", err)
	}
	for k, v := range patchMap {
		merged[k] = v
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal merged account record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+tok.AccountID+"-*")
	if err != nil {
		s.logger.Warn("account persist failed (non-fatal)", zap.String("account", tok.AccountID), zap.Error(err))
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.logger.Warn("account persist write failed (non-fatal)", zap.String("account", tok.AccountID), zap.Error(err))
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		s.logger.Warn("account persist close failed (non-fatal)", zap.String("account", tok.AccountID), zap.Error(err))
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		s.logger.Warn("account persist rename failed (non-fatal)", zap.String("account", tok.AccountID), zap.Error(err))
		return err
	}
	return nil
}

// WatchReload starts an fsnotify watch on dir, reloading the touched account
// on any write/create event. Stop it with StopWatch.
func (s *Store) WatchReload() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch accounts dir: %w", err)
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if !strings.HasSuffix(ev.Name, ".json") {
					continue
				}
				id := strings.TrimSuffix(filepath.Base(ev.Name), ".json")
				if strings.HasPrefix(id, ".tmp-") {
					continue
				}
				if err := s.ReloadAccount(id); err != nil {
					s.logger.Warn("reload on fsnotify event failed", zap.String("account", id), zap.Error(err))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("fsnotify watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// StopWatch closes the directory watcher, if one was started.
func (s *Store) StopWatch() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}
