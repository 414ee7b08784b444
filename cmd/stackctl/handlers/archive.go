package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"

	"github.com/imamik/stackctl/internal/platform/s3"
)

// ArchiveOptions are the flags of the archive command.
type ArchiveOptions struct {
	Bucket    string
	Prefix    string
	Endpoint  string
	Region    string
	PathStyle bool
	Out       io.Writer
}

type archiver interface {
	Archive(ctx context.Context, paths ...string) ([]s3.ArchivedFile, error)
}

// newArchiver builds the S3 archiver - can be replaced in tests.
var newArchiver = func(ctx context.Context, opts ArchiveOptions) (archiver, error) {
	endpoint := firstNonEmpty(opts.Endpoint, os.Getenv("S3_ENDPOINT"))
	region := firstNonEmpty(opts.Region, os.Getenv("S3_REGION"), "us-east-1")
	accessKey := os.Getenv("S3_ACCESS_KEY")
	secretKey := os.Getenv("S3_SECRET_KEY")
	if endpoint == "" || accessKey == "" || secretKey == "" {
		return nil, errors.New("S3 endpoint and credentials are required (S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY)")
	}

	client, err := s3.NewClient(ctx, endpoint, region, accessKey, secretKey, opts.PathStyle)
	if err != nil {
		return nil, err
	}
	var archiveOpts []s3.ArchiverOption
	if opts.Prefix != "" {
		archiveOpts = append(archiveOpts, s3.WithPrefix(opts.Prefix))
	}
	return s3.NewArchiver(client, opts.Bucket, archiveOpts...)
}

// Archive uploads the audit log and, for the file backend, the ledger.
func Archive(ctx context.Context, g *Globals, opts ArchiveOptions) error {
	log := logr.FromContextOrDiscard(ctx)

	var paths []string
	for _, p := range []string{g.AuditPath(), g.LedgerPath()} {
		info, err := os.Stat(p)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Info("Skipping missing state file", "path", p)
			continue
		case err != nil:
			return err
		case info.IsDir():
			log.Info("Skipping ledger database directory; only the file backend can be archived", "path", p)
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return fmt.Errorf("nothing to archive in %s", g.stateDir())
	}

	a, err := newArchiver(ctx, opts)
	if err != nil {
		return err
	}
	files, err := a.Archive(ctx, paths...)

	p := newPrinter(opts.Out)
	for _, f := range files {
		p.printf("%s %s -> s3://%s/%s %s\n", p.render(okStyle, "uploaded"), f.Source, opts.Bucket, f.Key,
			p.render(dimStyle, fmt.Sprintf("(%d -> %d bytes)", f.Size, f.CompressedSize)))
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
