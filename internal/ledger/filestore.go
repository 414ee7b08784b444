package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// FileStore keeps all transactions in one append-only JSON lines file.
type FileStore struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenFileStore opens or creates the ledger file at path.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	if err := truncatePartialRecord(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	return &FileStore{path: path, file: f}, nil
}

// truncatePartialRecord cuts a trailing line without a newline, left by a
// write that was interrupted, so the next record starts on a line of its own.
func truncatePartialRecord(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger file: %w", err)
	}
	if end := bytes.LastIndexByte(data, '\n') + 1; end < len(data) {
		if err := os.Truncate(path, int64(end)); err != nil {
			return fmt.Errorf("truncate partial ledger record: %w", err)
		}
	}
	return nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("ledger store is closed")
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write ledger record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger file: %w", err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, txID string) (*Transaction, error) {
	var records []Record
	err := s.scan(ctx, func(rec Record) {
		if rec.TxID == txID {
			records = append(records, rec)
		}
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(records, func(a, b Record) int { return a.Seq - b.Seq })
	return replay(txID, records)
}

func (s *FileStore) Pending(ctx context.Context) ([]string, error) {
	var order []string
	open := make(map[string]bool)
	err := s.scan(ctx, func(rec Record) {
		switch rec.Kind {
		case RecordBegin:
			if _, seen := open[rec.TxID]; !seen {
				order = append(order, rec.TxID)
			}
			open[rec.TxID] = true
		case RecordStatus:
			if rec.Status.Terminal() {
				open[rec.TxID] = false
			}
		}
	})
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, id := range order {
		if open[id] {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// scan decodes every record in the file. A final line without a newline is
// the remains of an interrupted write and is ignored.
func (s *FileStore) scan(ctx context.Context, fn func(Record)) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read ledger file: %w", err)
	}
	r := bufio.NewReader(bytes.NewReader(data))
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ledger file: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("ledger line %d: %w", lineNo, err)
		}
		fn(rec)
	}
}
