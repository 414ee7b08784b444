package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/imamik/stackctl/internal/audit"
	"github.com/imamik/stackctl/internal/config"
	"github.com/imamik/stackctl/internal/ledger"
	"github.com/imamik/stackctl/internal/platform/hcloud"
	"github.com/imamik/stackctl/pkg/remote"
)

// Ledger backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"

	DefaultStateDir = ".stackctl"

	ledgerFileName   = "ledger.jsonl"
	ledgerBadgerName = "ledger.db"
	auditFileName    = "audit.jsonl"
)

var errMissingToken = errors.New("HCLOUD_TOKEN environment variable is required")

// Globals holds the persistent flags shared by all commands.
type Globals struct {
	StateDir      string
	LedgerBackend string
}

func (g *Globals) stateDir() string {
	if g.StateDir == "" {
		return DefaultStateDir
	}
	return g.StateDir
}

// LedgerPath returns the ledger file or database directory.
func (g *Globals) LedgerPath() string {
	if g.LedgerBackend == BackendBadger {
		return filepath.Join(g.stateDir(), ledgerBadgerName)
	}
	return filepath.Join(g.stateDir(), ledgerFileName)
}

// AuditPath returns the audit log file.
func (g *Globals) AuditPath() string {
	return filepath.Join(g.stateDir(), auditFileName)
}

// labelCleaner deletes resources by label. Implemented by hcloud.RealClient.
type labelCleaner interface {
	CleanupByLabel(ctx context.Context, selector string) (hcloud.CleanupReport, error)
}

// Factory function variables - can be replaced in tests.
var (
	newRemoteClient = func(location string) (remote.Client, error) {
		token := os.Getenv("HCLOUD_TOKEN")
		if token == "" {
			return nil, errMissingToken
		}
		return hcloud.NewRealClient(token, hcloud.WithLocation(location)), nil
	}

	newLabelCleaner = func() (labelCleaner, error) {
		token := os.Getenv("HCLOUD_TOKEN")
		if token == "" {
			return nil, errMissingToken
		}
		return hcloud.NewRealClient(token), nil
	}
)

// openStore opens the ledger store selected by the globals.
func openStore(g *Globals) (ledger.Store, error) {
	switch g.LedgerBackend {
	case "", BackendFile:
		return ledger.OpenFileStore(g.LedgerPath())
	case BackendBadger:
		return ledger.OpenBadgerStore(ledger.BadgerOptions{Path: g.LedgerPath()})
	default:
		return nil, fmt.Errorf("unknown ledger backend %q (want %s or %s)", g.LedgerBackend, BackendFile, BackendBadger)
	}
}

// runtime bundles the durable state a workflow run writes to.
type runtime struct {
	store ledger.Store
	audit *audit.Logger
}

func openRuntime(ctx context.Context, g *Globals, res *config.Resilience) (*runtime, error) {
	store, err := openStore(g)
	if err != nil {
		return nil, err
	}
	sink, err := audit.OpenFileSink(g.AuditPath())
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger := audit.New(sink,
		audit.WithQueueSize(res.AuditQueueSize),
		audit.WithLogger(logr.FromContextOrDiscard(ctx).WithName("audit")),
	)
	return &runtime{store: store, audit: logger}, nil
}

// close drains the audit queue and closes the store.
func (r *runtime) close(ctx context.Context) error {
	return errors.Join(r.audit.Close(ctx), r.store.Close())
}
