package s3

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Object metadata keys written by the Archiver.
const (
	MetaHash   = "blake3"
	MetaSize   = "source-size"
	MetaSource = "source-name"

	DefaultPrefix = "stackctl"

	compressedExt = ".zst"
	timeLayout    = "20060102T150405Z"
)

// ArchivedFile describes one uploaded file.
type ArchivedFile struct {
	Source         string `json:"source"`
	Key            string `json:"key"`
	Size           int64  `json:"size"`
	CompressedSize int64  `json:"compressed_size"`
	Hash           string `json:"blake3"`
}

// Archiver uploads state files to a bucket.
type Archiver struct {
	client *Client
	bucket string
	prefix string
	now    func() time.Time
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithPrefix sets the key prefix all archives are written under.
func WithPrefix(prefix string) ArchiverOption {
	return func(a *Archiver) {
		a.prefix = prefix
	}
}

// WithClock overrides the clock used to name archive runs.
func WithClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) {
		a.now = now
	}
}

// NewArchiver returns an Archiver writing to bucket.
func NewArchiver(client *Client, bucket string, opts ...ArchiverOption) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	a := &Archiver{client: client, bucket: bucket, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Archive compresses each file and uploads it under
// <prefix>/<UTC timestamp>/<file name>.zst. The bucket is created if needed.
// Files are uploaded in order; the first failure stops the run and the files
// uploaded so far are returned with the error.
func (a *Archiver) Archive(ctx context.Context, paths ...string) ([]ArchivedFile, error) {
	log := logr.FromContextOrDiscard(ctx)
	if len(paths) == 0 {
		return nil, errors.New("no files to archive")
	}
	if err := a.client.EnsureBucket(ctx, a.bucket); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()

	run := path.Join(a.prefix, a.now().UTC().Format(timeLayout))
	archived := make([]ArchivedFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return archived, fmt.Errorf("failed to read %s: %w", p, err)
		}

		sum := blake3.Sum256(data)
		compressed := enc.EncodeAll(data, nil)
		file := ArchivedFile{
			Source:         p,
			Key:            path.Join(run, filepath.Base(p)+compressedExt),
			Size:           int64(len(data)),
			CompressedSize: int64(len(compressed)),
			Hash:           hex.EncodeToString(sum[:]),
		}

		err = a.client.PutObject(ctx, a.bucket, file.Key, compressed, PutOptions{
			ContentType:     "application/zstd",
			ContentEncoding: "zstd",
			Metadata: map[string]string{
				MetaHash:   file.Hash,
				MetaSize:   strconv.FormatInt(file.Size, 10),
				MetaSource: filepath.Base(p),
			},
		})
		if err != nil {
			return archived, err
		}
		log.V(1).Info("Archived file", "source", p, "key", file.Key, "size", file.Size, "compressed", file.CompressedSize)
		archived = append(archived, file)
	}

	log.Info("Archive complete", "bucket", a.bucket, "prefix", run, "files", len(archived))
	return archived, nil
}

// List returns the keys of all archived files.
func (a *Archiver) List(ctx context.Context) ([]string, error) {
	return a.client.ListObjects(ctx, a.bucket, a.prefix+"/")
}

// Restore downloads and decompresses an archived file and checks it against
// the hash recorded at upload.
func (a *Archiver) Restore(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	data, err := dec.DecodeAll(obj.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", key, err)
	}

	if want := obj.Metadata[MetaHash]; want != "" {
		sum := blake3.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != want {
			return nil, fmt.Errorf("%s: content hash %s does not match recorded %s", key, got, want)
		}
	}
	return data, nil
}
