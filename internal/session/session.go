// Package session keeps per-key conversation history. Stores are
// append-only: Save writes only the messages added since the last save.
package session

import (
	"sync"

	"github.com/0324wy/yana/internal/llm"
)

// Session is the conversation history for one key. It is owned by a single
// turn at a time.
type Session struct {
	Key     string
	History []llm.Message
	saved   int
}

// Restore returns a session whose history is already persisted.
func Restore(key string, history []llm.Message) *Session {
	return &Session{Key: key, History: history, saved: len(history)}
}

func (s *Session) Append(msgs ...llm.Message) {
	s.History = append(s.History, msgs...)
}

// Unsaved returns the messages appended since the last MarkSaved.
func (s *Session) Unsaved() []llm.Message {
	if s.saved >= len(s.History) {
		return nil
	}
	return s.History[s.saved:]
}

func (s *Session) MarkSaved() { s.saved = len(s.History) }

// Store loads and persists sessions.
type Store interface {
	GetOrCreate(key string) (*Session, error)
	// Save persists s.Unsaved(). It is a no-op when nothing is new.
	Save(s *Session) error
	// Clear drops the stored history for key.
	Clear(key string) error
}

// KeyedMutex serializes work per key. Locks for idle keys are released.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
