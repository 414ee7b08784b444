// Package s3 archives stackctl state files to S3-compatible object storage
// such as Hetzner Object Storage.
//
// Audit logs and ledgers are compressed with zstd and uploaded under a
// timestamped prefix. Each object records the blake3 hash of its
// uncompressed content so a restored file can be checked against it.
package s3
