package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/0324wy/yana/internal/llm"
)

// FileStore keeps one JSONL file per session key. Each line is one message.
// Appends are serialized per key in-process and with a file lock across
// processes. The lock lives in a sibling "<name>.jsonl.lock" file that is
// created on first use and never removed, not even by Clear: unlinking it
// while another process waits on it would let two writers hold the lock.
type FileStore struct {
	dir    string
	keys   KeyedMutex
	logger *slog.Logger
}

type entry struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
	llm.Message
}

func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create session directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Path returns the history file for key. Keys map to stable file names so
// arbitrary key text never reaches the filesystem.
func (f *FileStore) Path(key string) string {
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte("yana:session:"+key)).String()
	return filepath.Join(f.dir, name+".jsonl")
}

func (f *FileStore) GetOrCreate(key string) (*Session, error) {
	unlock := f.keys.Lock(key)
	defer unlock()

	path := f.Path(key)
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock session %q: %w", key, err)
	}
	defer func() { _ = lock.Unlock() }()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Restore(key, nil), nil
		}
		return nil, fmt.Errorf("open session %q: %w", key, err)
	}
	defer file.Close()

	var history []llm.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// A torn final write must not lose the rest of the history.
			f.logger.Warn("skipping corrupt session line", "key", key, "line", lineNo, "error", err)
			continue
		}
		history = append(history, e.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session %q: %w", key, err)
	}
	return Restore(key, history), nil
}

func (f *FileStore) Save(s *Session) error {
	pending := s.Unsaved()
	if len(pending) == 0 {
		return nil
	}

	unlock := f.keys.Lock(s.Key)
	defer unlock()

	path := f.Path(s.Key)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock session %q: %w", s.Key, err)
	}
	defer func() { _ = lock.Unlock() }()

	var buf []byte
	now := time.Now().UTC()
	for _, m := range pending {
		b, err := json.Marshal(entry{Key: s.Key, At: now, Message: m})
		if err != nil {
			return fmt.Errorf("marshal session entry: %w", err)
		}
		buf = append(buf, b...)
		buf = append(buf, '\n')
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open session %q: %w", s.Key, err)
	}
	if _, err := file.Write(buf); err != nil {
		_ = file.Close()
		return fmt.Errorf("write session %q: %w", s.Key, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync session %q: %w", s.Key, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close session %q: %w", s.Key, err)
	}

	s.MarkSaved()
	return nil
}

// Clear removes the history file for key. Its lock file stays.
func (f *FileStore) Clear(key string) error {
	unlock := f.keys.Lock(key)
	defer unlock()

	path := f.Path(key)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock session %q: %w", key, err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session %q: %w", key, err)
	}
	return nil
}
