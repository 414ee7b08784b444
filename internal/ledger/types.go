package ledger

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusInProgress          Status = "in_progress"
	StatusCommitted           Status = "committed"
	StatusRolledBack          Status = "rolled_back"
	StatusPartiallyRolledBack Status = "partially_rolled_back"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s != StatusInProgress
}

// CanTransition reports whether s may move to next. Only InProgress may move,
// and only to one of the terminal states.
func (s Status) CanTransition(next Status) bool {
	if s != StatusInProgress {
		return false
	}
	switch next {
	case StatusCommitted, StatusRolledBack, StatusPartiallyRolledBack:
		return true
	default:
		return false
	}
}

// Action names the compensating operation for an entry.
type Action string

const (
	// ActionDelete removes the created resource.
	ActionDelete Action = "delete"
	// ActionNone means there is nothing to undo.
	ActionNone Action = "none"
)

// Compensation references the operation that undoes an entry. It carries ids
// only so it can be persisted and executed by a later process.
type Compensation struct {
	Action       Action `json:"action" cbor:"action"`
	ResourceType string `json:"resource_type" cbor:"resource_type"`
	ResourceID   string `json:"resource_id" cbor:"resource_id"`
}

func (c Compensation) String() string {
	return fmt.Sprintf("%s %s/%s", c.Action, c.ResourceType, c.ResourceID)
}

// DeleteOf returns the compensation that deletes the given resource.
func DeleteOf(resourceType, resourceID string) Compensation {
	return Compensation{Action: ActionDelete, ResourceType: resourceType, ResourceID: resourceID}
}

// Entry records one successfully created resource. Entries are immutable once
// appended.
type Entry struct {
	Seq          int          `json:"seq" cbor:"seq"`
	Step         string       `json:"step" cbor:"step"`
	ResourceType string       `json:"resource_type" cbor:"resource_type"`
	ResourceID   string       `json:"resource_id" cbor:"resource_id"`
	CreatedAt    time.Time    `json:"created_at" cbor:"created_at"`
	Compensation Compensation `json:"compensation" cbor:"compensation"`
}

// Transaction is the persisted state of one workflow run.
type Transaction struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Status        Status    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
	Entries       []Entry   `json:"entries"`
	// Compensated holds the sequence numbers of entries whose compensation
	// already succeeded.
	Compensated map[int]bool `json:"compensated,omitempty"`

	// nextRecord is the sequence number for the next persisted record.
	nextRecord int
}

// RecordKind identifies what a persisted record changes.
type RecordKind string

const (
	RecordBegin              RecordKind = "begin"
	RecordEntry              RecordKind = "entry"
	RecordCompensated        RecordKind = "compensated"
	RecordCompensationFailed RecordKind = "compensation_failed"
	RecordStatus             RecordKind = "status"
)

// Record is the unit written to a Store. Replaying the records of a
// transaction in Seq order rebuilds its state.
type Record struct {
	TxID          string     `json:"tx_id" cbor:"tx_id"`
	Seq           int        `json:"seq" cbor:"seq"`
	Kind          RecordKind `json:"kind" cbor:"kind"`
	At            time.Time  `json:"at" cbor:"at"`
	CorrelationID string     `json:"correlation_id,omitempty" cbor:"correlation_id,omitempty"`
	Entry         *Entry     `json:"entry,omitempty" cbor:"entry,omitempty"`
	EntrySeq      int        `json:"entry_seq,omitempty" cbor:"entry_seq,omitempty"`
	Status        Status     `json:"status,omitempty" cbor:"status,omitempty"`
	Error         string     `json:"error,omitempty" cbor:"error,omitempty"`
}

// apply folds rec into tx.
func apply(tx *Transaction, rec Record) error {
	switch rec.Kind {
	case RecordBegin:
		tx.ID = rec.TxID
		tx.CorrelationID = rec.CorrelationID
		tx.Status = StatusInProgress
		tx.StartedAt = rec.At
	case RecordEntry:
		if rec.Entry == nil {
			return fmt.Errorf("record %d of %s: entry record without entry", rec.Seq, rec.TxID)
		}
		tx.Entries = append(tx.Entries, *rec.Entry)
	case RecordCompensated:
		if tx.Compensated == nil {
			tx.Compensated = make(map[int]bool)
		}
		tx.Compensated[rec.EntrySeq] = true
	case RecordCompensationFailed:
		// Informational; the entry still needs compensating.
	case RecordStatus:
		if !tx.Status.CanTransition(rec.Status) {
			return fmt.Errorf("record %d of %s: invalid transition %s -> %s", rec.Seq, rec.TxID, tx.Status, rec.Status)
		}
		tx.Status = rec.Status
		tx.FinishedAt = rec.At
	default:
		return fmt.Errorf("record %d of %s: unknown kind %q", rec.Seq, rec.TxID, rec.Kind)
	}
	return nil
}

// replay builds a transaction from its records, which must be in Seq order.
func replay(txID string, records []Record) (*Transaction, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
	}
	if records[0].Kind != RecordBegin {
		return nil, fmt.Errorf("transaction %s: first record is %q, want %q", txID, records[0].Kind, RecordBegin)
	}
	tx := &Transaction{}
	for _, rec := range records {
		if err := apply(tx, rec); err != nil {
			return nil, err
		}
	}
	tx.nextRecord = records[len(records)-1].Seq + 1
	return tx, nil
}
