package audit

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
)

// GenesisHash is the prev_hash of the first record in a log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const fileMode = 0o600

// record is one line of the log file. Event holds the exact bytes that were
// hashed so verification does not depend on re-encoding.
type record struct {
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
	Event    json.RawMessage `json:"event"`
}

func chainHash(prev string, event []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte(prev))
	_, _ = h.Write([]byte{'\n'})
	_, _ = h.Write(event)
	return hex.EncodeToString(h.Sum(nil))
}

// FileSink appends events as JSON lines to a file readable only by its owner.
// Each line is chained to the previous one by a blake3 hash.
type FileSink struct {
	path string

	mu       sync.Mutex
	file     *os.File
	lastSeq  uint64
	prevHash string
}

// OpenFileSink opens or creates the log at path. An existing log is continued:
// sequence numbers and the hash chain pick up after its last complete record.
// A partial trailing line left by a crash is cut off first.
func OpenFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	s := &FileSink{path: path, prevHash: GenesisHash}
	if err := s.loadChainState(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	s.file = f
	return s, nil
}

func (s *FileSink) loadChainState() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	if end := bytes.LastIndexByte(data, '\n') + 1; end < len(data) {
		if err := os.Truncate(s.path, int64(end)); err != nil {
			return fmt.Errorf("truncate partial audit record: %w", err)
		}
		data = data[:end]
	}

	events, err := Replay(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("load audit chain: %w", err)
	}
	if n := len(events); n > 0 {
		s.lastSeq = events[n-1].Seq
		s.prevHash = events[n-1].Hash
	}
	return nil
}

// Path returns the log file path.
func (s *FileSink) Path() string {
	return s.path
}

// LastSeq returns the sequence number of the last record written.
func (s *FileSink) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Write fills in the chain fields of ev and appends it.
func (s *FileSink) Write(ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("audit log is closed")
	}

	rec := record{PrevHash: s.prevHash, Hash: chainHash(s.prevHash, payload), Event: payload}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}

	ev.PrevHash = rec.PrevHash
	ev.Hash = rec.Hash
	s.prevHash = rec.Hash
	s.lastSeq = ev.Seq
	return nil
}

func (s *FileSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadAll replays the log file.
func (s *FileSink) ReadAll(_ context.Context) ([]Event, error) {
	return ReadFile(s.path)
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Write(ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *MemorySink) Sync() error  { return nil }
func (m *MemorySink) Close() error { return nil }

// ReadAll returns a copy of the recorded events.
func (m *MemorySink) ReadAll(_ context.Context) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...), nil
}
