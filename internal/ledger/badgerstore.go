package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

const (
	recordPrefix  = "ledger/rec/"
	pendingPrefix = "ledger/pending/"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("ledger: CBOR decoder initialization failed: " + err.Error())
	}
}

// BadgerStore keeps ledger records in an embedded Badger database, CBOR
// encoded, one key per record. Open transactions are tracked under a separate
// prefix so Pending does not scan every record.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures OpenBadgerStore.
type BadgerOptions struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
}

// OpenBadgerStore opens or creates a Badger-backed store.
func OpenBadgerStore(o BadgerOptions) (*BadgerStore, error) {
	var opts badger.Options
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if o.Path == "" {
			return nil, errors.New("badger store: path is required")
		}
		if err := os.MkdirAll(o.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create ledger database directory: %w", err)
		}
		opts = badger.DefaultOptions(o.Path).WithSyncWrites(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func recordKey(txID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%016d", recordPrefix, txID, seq))
}

func (s *BadgerStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := cborEnc.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(rec.TxID, rec.Seq), data); err != nil {
			return fmt.Errorf("write ledger record: %w", err)
		}
		switch {
		case rec.Kind == RecordBegin:
			return txn.Set([]byte(pendingPrefix+rec.TxID), nil)
		case rec.Kind == RecordStatus && rec.Status.Terminal():
			return txn.Delete([]byte(pendingPrefix + rec.TxID))
		}
		return nil
	})
}

func (s *BadgerStore) Load(ctx context.Context, txID string) (*Transaction, error) {
	prefix := []byte(recordPrefix + txID + "/")
	var records []Record

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec Record
			if err := cborDec.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode ledger record %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", txID, err)
	}
	return replay(txID, records)
}

func (s *BadgerStore) Pending(ctx context.Context) ([]string, error) {
	prefix := []byte(pendingPrefix)
	var ids []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), pendingPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	return ids, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
