package thread

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"quill/internal/llm"
	"quill/internal/logging"
	"quill/internal/store"
)

// Persister serializes history snapshot writes per thread key. Every
// write is a full snapshot taken after the in-memory mutation, and writes
// for the same key hold the same lock, so the persisted value always
// reflects completion order.
type Persister struct {
	store *store.KVStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPersister wraps the KV store with per-key write ordering.
func NewPersister(kv *store.KVStore) *Persister {
	return &Persister{
		store: kv,
		locks: make(map[string]*sync.Mutex),
	}
}

func (p *Persister) keyLock(threadKey string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[threadKey]
	if !ok {
		l = &sync.Mutex{}
		p.locks[threadKey] = l
	}
	return l
}

// SaveHistory overwrites the persisted snapshot for threadKey.
func (p *Persister) SaveHistory(threadKey string, history []llm.Message) error {
	l := p.keyLock(threadKey)
	l.Lock()
	defer l.Unlock()

	return p.saveLocked(threadKey, history)
}

// SaveHistoryFrom overwrites the persisted snapshot for threadKey with
// the result of snapshot(). The snapshot is taken while holding the key
// lock, so a slow writer can never clobber a newer snapshot with a stale
// one taken before it was descheduled.
func (p *Persister) SaveHistoryFrom(threadKey string, snapshot func() []llm.Message) error {
	l := p.keyLock(threadKey)
	l.Lock()
	defer l.Unlock()

	return p.saveLocked(threadKey, snapshot())
}

// saveLocked writes the snapshot. Caller holds the key lock.
func (p *Persister) saveLocked(threadKey string, history []llm.Message) error {
	if history == nil {
		history = []llm.Message{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history for %s: %w", threadKey, err)
	}
	if err := p.store.Set(HistoryKey(threadKey), data); err != nil {
		return fmt.Errorf("failed to persist history for %s: %w", threadKey, err)
	}
	logging.SessionDebug("Persisted %d messages for thread %s", len(history), threadKey)
	return nil
}

// LoadHistory reads the persisted snapshot for threadKey. The second
// return is false when no snapshot exists.
func (p *Persister) LoadHistory(threadKey string) ([]llm.Message, bool, error) {
	data, ok, err := p.store.Get(HistoryKey(threadKey))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var history []llm.Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, false, fmt.Errorf("corrupt history for %s: %w", threadKey, err)
	}
	return history, true, nil
}

// DeleteHistory removes the persisted snapshot for threadKey.
func (p *Persister) DeleteHistory(threadKey string) error {
	l := p.keyLock(threadKey)
	l.Lock()
	defer l.Unlock()

	return p.store.Delete(HistoryKey(threadKey))
}

// ListThreadKeys returns the thread keys with persisted history, sorted
// lexicographically (the store lists keys in key order).
func (p *Persister) ListThreadKeys() ([]string, error) {
	keys, err := p.store.ListKeys(historyKeyPrefix)
	if err != nil {
		return nil, err
	}
	threadKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		threadKeys = append(threadKeys, strings.TrimPrefix(k, historyKeyPrefix))
	}
	return threadKeys, nil
}
