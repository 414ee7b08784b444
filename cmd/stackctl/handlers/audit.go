package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/imamik/stackctl/internal/audit"
)

// AuditQueryOptions are the flags of the audit query command.
type AuditQueryOptions struct {
	CorrelationID string
	LogPath       string
	JSON          bool
	Out           io.Writer
}

// AuditQuery prints every event recorded for one workflow run, in the order
// they were written.
func AuditQuery(ctx context.Context, g *Globals, opts AuditQueryOptions) error {
	path := opts.LogPath
	if path == "" {
		path = g.AuditPath()
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}

	sink, err := audit.OpenFileSink(path)
	if err != nil {
		return err
	}
	logger := audit.New(sink)
	defer func() { _ = logger.Close(context.WithoutCancel(ctx)) }()

	events, err := logger.Query(ctx, opts.CorrelationID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no audit events for correlation id %q", opts.CorrelationID)
	}

	if opts.JSON {
		enc := json.NewEncoder(opts.Out)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}
	newPrinter(opts.Out).renderEvents(events)
	return nil
}

// AuditVerify checks the hash chain of the audit log.
func AuditVerify(_ context.Context, g *Globals, logPath string, out io.Writer) error {
	if logPath == "" {
		logPath = g.AuditPath()
	}

	p := newPrinter(out)
	res, err := audit.VerifyFile(logPath)
	if err != nil {
		var chainErr *audit.ChainError
		if errors.As(err, &chainErr) {
			p.printf("%s %s\n", p.render(failStyle, "TAMPERED"), chainErr.Error())
		}
		return err
	}

	p.printf("%s %d records (seq %d-%d)\n", p.render(okStyle, "OK"), res.Records, res.FirstSeq, res.LastSeq)
	p.printf("  %s %s\n", p.render(dimStyle, "head:"), res.LastHash)
	return nil
}
