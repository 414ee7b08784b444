package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/stackctl/cmd/stackctl/handlers"
)

// Archive returns the archive command.
func Archive(g *handlers.Globals) *cobra.Command {
	opts := handlers.ArchiveOptions{}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Upload the audit log and ledger to S3-compatible storage",
		Long: `Archive compresses the audit log and ledger file with zstd and uploads
them under <prefix>/<timestamp>/. The bucket is created if it does not
exist.

Reads S3_ENDPOINT, S3_REGION, S3_ACCESS_KEY and S3_SECRET_KEY from the
environment unless the matching flags are set.

Example:
  stackctl archive --bucket stackctl-state --endpoint https://fsn1.your-objectstorage.com`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Out = cmd.OutOrStdout()
			return handlers.Archive(cmd.Context(), g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Bucket, "bucket", "", "Target bucket (required)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "Key prefix (default stackctl)")
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "S3 endpoint URL")
	cmd.Flags().StringVar(&opts.Region, "region", "", "S3 region")
	cmd.Flags().BoolVar(&opts.PathStyle, "path-style", false, "Use path-style bucket addressing")
	_ = cmd.MarkFlagRequired("bucket")

	return cmd
}
