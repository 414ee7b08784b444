package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ChainError reports where a log fails verification.
type ChainError struct {
	Line   int
	Seq    uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at line %d (seq %d): %s", e.Line, e.Seq, e.Reason)
}

// VerifyResult summarizes a verified log.
type VerifyResult struct {
	Records  int
	FirstSeq uint64
	LastSeq  uint64
	LastHash string
}

// ReadFile replays the log at path.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	return Replay(f)
}

// Replay decodes a log in the order it was written. A final line that does
// not decode is the remains of an interrupted write and is ignored; a broken
// line anywhere else is an error.
func Replay(r io.Reader) ([]Event, error) {
	var events []Event
	err := scanRecords(r, func(_ int, rec record, ev Event) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

// Verify checks that every record hashes to its stored hash, links to its
// predecessor and carries the next sequence number. It returns a *ChainError
// at the first violation.
func Verify(r io.Reader) (VerifyResult, error) {
	var res VerifyResult
	prev := GenesisHash
	err := scanRecords(r, func(line int, rec record, ev Event) error {
		if rec.PrevHash != prev {
			return &ChainError{Line: line, Seq: ev.Seq, Reason: "prev_hash does not match the preceding record"}
		}
		if got := chainHash(rec.PrevHash, rec.Event); got != rec.Hash {
			return &ChainError{Line: line, Seq: ev.Seq, Reason: "hash mismatch, record was modified"}
		}
		if res.Records == 0 {
			res.FirstSeq = ev.Seq
		} else if ev.Seq != res.LastSeq+1 {
			return &ChainError{Line: line, Seq: ev.Seq, Reason: fmt.Sprintf("expected seq %d", res.LastSeq+1)}
		}
		res.Records++
		res.LastSeq = ev.Seq
		res.LastHash = rec.Hash
		prev = rec.Hash
		return nil
	})
	return res, err
}

// VerifyFile verifies the log at path.
func VerifyFile(path string) (VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

func scanRecords(r io.Reader, fn func(line int, rec record, ev Event) error) error {
	br := bufio.NewReader(r)
	for line := 1; ; line++ {
		raw, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read audit log: %w", readErr)
		}
		last := errors.Is(readErr, io.EOF)

		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 {
			rec, ev, err := decode(raw)
			switch {
			case err != nil && last:
				return nil
			case err != nil:
				return fmt.Errorf("audit log line %d: %w", line, err)
			}
			if err := fn(line, rec, ev); err != nil {
				return err
			}
		}
		if last {
			return nil
		}
	}
}

func decode(raw []byte) (record, Event, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, Event{}, err
	}
	if len(rec.Event) == 0 {
		return rec, Event{}, errors.New("record has no event")
	}
	var ev Event
	if err := json.Unmarshal(rec.Event, &ev); err != nil {
		return rec, Event{}, err
	}
	ev.PrevHash = rec.PrevHash
	ev.Hash = rec.Hash
	return rec, ev, nil
}
