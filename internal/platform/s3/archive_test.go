package s3

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
}

func TestArchiver_ArchiveAndRestore(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	client := testClient(t, fake)
	dir := t.TempDir()
	audit := writeFile(t, dir, "audit.jsonl", strings.Repeat(`{"type":"StepStarted"}`+"\n", 100))
	ledger := writeFile(t, dir, "ledger.jsonl", `{"kind":"begin"}`+"\n")

	a, err := NewArchiver(client, "state", WithPrefix("prod"), WithClock(fixedClock))
	require.NoError(t, err)

	ctx := context.Background()
	files, err := a.Archive(ctx, audit, ledger)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "prod/20260304T050607Z/audit.jsonl.zst", files[0].Key)
	assert.Equal(t, "prod/20260304T050607Z/ledger.jsonl.zst", files[1].Key)
	assert.Less(t, files[0].CompressedSize, files[0].Size)
	assert.Len(t, files[0].Hash, 64)

	stored, ok := fake.object("state", files[0].Key)
	require.True(t, ok)
	assert.Equal(t, "zstd", stored.encoding)
	assert.Equal(t, files[0].Hash, stored.metadata[MetaHash])
	assert.Equal(t, "audit.jsonl", stored.metadata[MetaSource])

	keys, err := a.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{files[0].Key, files[1].Key}, keys)

	data, err := a.Restore(ctx, files[0].Key)
	require.NoError(t, err)
	want, _ := os.ReadFile(audit)
	assert.Equal(t, want, data)
}

func TestArchiver_RestoreDetectsTampering(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	client := testClient(t, fake)
	p := writeFile(t, t.TempDir(), "audit.jsonl", "original\n")

	a, err := NewArchiver(client, "state", WithClock(fixedClock))
	require.NoError(t, err)
	files, err := a.Archive(context.Background(), p)
	require.NoError(t, err)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	fake.corrupt("state", files[0].Key, enc.EncodeAll([]byte("forged\n"), nil))
	require.NoError(t, enc.Close())

	_, err = a.Restore(context.Background(), files[0].Key)
	assert.ErrorContains(t, err, "does not match")
}

func TestArchiver_Errors(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	client := testClient(t, fake)

	_, err := NewArchiver(nil, "state")
	assert.Error(t, err)
	_, err = NewArchiver(client, "")
	assert.Error(t, err)

	a, err := NewArchiver(client, "state")
	require.NoError(t, err)

	_, err = a.Archive(context.Background())
	assert.ErrorContains(t, err, "no files")

	good := writeFile(t, t.TempDir(), "ledger.jsonl", "x")
	files, err := a.Archive(context.Background(), good, filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.ErrorContains(t, err, "failed to read")
	assert.Len(t, files, 1, "files uploaded before the failure are reported")

	_, err = a.Restore(context.Background(), "stackctl/none.zst")
	assert.ErrorIs(t, err, ErrNotFound)
}
