package handlers

import (
	"context"
	"io"
	"maps"
	"slices"

	"github.com/go-logr/logr"

	"github.com/imamik/stackctl/internal/util/labels"
)

// Cleanup deletes every resource labelled with correlationID. Resources that
// fail to delete are reported and the remaining types are still attempted.
func Cleanup(ctx context.Context, _ *Globals, correlationID string, out io.Writer) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("correlationID", correlationID)

	cleaner, err := newLabelCleaner()
	if err != nil {
		return err
	}

	report, err := cleaner.CleanupByLabel(logr.NewContext(ctx, log), labels.SelectorForCorrelation(correlationID))

	p := newPrinter(out)
	for _, typ := range slices.Sorted(maps.Keys(report.Deleted)) {
		for _, name := range report.Deleted[typ] {
			p.printf("%s %s %s\n", p.render(okStyle, "deleted"), typ, name)
		}
	}
	if report.Total() == 0 && err == nil {
		p.printf("No resources found for correlation id %s\n", correlationID)
	}
	return err
}
