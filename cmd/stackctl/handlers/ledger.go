package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"github.com/imamik/stackctl/internal/config"
	"github.com/imamik/stackctl/internal/ledger"
	"github.com/imamik/stackctl/internal/orchestration"
	"github.com/imamik/stackctl/pkg/remote"
)

// LedgerShow prints one transaction.
func LedgerShow(ctx context.Context, g *Globals, txID string, jsonOutput bool, out io.Writer) error {
	store, err := openStore(g)
	if err != nil {
		return err
	}
	defer store.Close()

	tx, err := store.Load(ctx, txID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", txID, err)
	}
	if jsonOutput {
		return writeJSON(out, tx)
	}
	newPrinter(out).renderTransaction(tx)
	return nil
}

// LedgerRecover rolls back txID, or every pending transaction when txID is
// empty. Compensations are recorded in the audit log like any other
// rollback.
func LedgerRecover(ctx context.Context, g *Globals, txID, location string, out io.Writer) (err error) {
	log := logr.FromContextOrDiscard(ctx)
	res := config.LoadResilience()

	rt, err := openRuntime(ctx, g, res)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.close(context.WithoutCancel(ctx)))
	}()

	ids := []string{txID}
	if txID == "" {
		if ids, err = rt.store.Pending(ctx); err != nil {
			return fmt.Errorf("list pending transactions: %w", err)
		}
	}
	p := newPrinter(out)
	if len(ids) == 0 {
		p.printf("No pending transactions\n")
		return nil
	}

	client, err := newRemoteClient(location)
	if err != nil {
		return err
	}
	engine, err := orchestration.New(orchestration.Config{
		Store:           rt.store,
		Compensator:     remote.DeleteCompensator{Client: client},
		Audit:           rt.audit,
		RollbackTimeout: res.RollbackTimeout,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		log.Info("Recovering transaction", "transaction", id)
		report, err := engine.Recover(ctx, id)
		if err != nil {
			errs = append(errs, err)
			p.printf("%s %s: %v\n", p.render(failStyle, "FAILED"), id, err)
			continue
		}
		style := okStyle
		if report.Status != ledger.StatusRolledBack {
			style = failStyle
			errs = append(errs, fmt.Errorf("recover %s: %w", id, report.Err()))
		}
		p.printf("%s %s: %d undone, %d skipped\n", p.render(style, string(report.Status)), id,
			len(report.Compensated), len(report.Skipped))
		for _, c := range report.ManualCleanup {
			p.printf("    manual cleanup: %s\n", c)
		}
	}
	return errors.Join(errs...)
}
