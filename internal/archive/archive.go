// Package archive copies batch input files into per-batch history
// directories and optionally mirrors each copy to S3.
package archive

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gridline/extractor/internal/config"
)

// Archiver copies input files under a history directory, one subdirectory
// per batch. When a bucket is configured every copy is also uploaded to S3.
type Archiver struct {
	historyDir string
	s3Client   *s3.Client
	bucket     string
}

// New builds an Archiver rooted at historyDir. When cfg enables the S3
// mirror the AWS client is created eagerly; on AWS config errors the
// returned Archiver still works locally and the error tells the caller the
// mirror is off.
func New(ctx context.Context, historyDir string, cfg config.ArchiveConfig) (*Archiver, error) {
	a := &Archiver{historyDir: historyDir}
	if !cfg.Enabled || cfg.S3Bucket == "" {
		return a, nil
	}

	var awsCfg aws.Config
	var err error
	if cfg.AWSProfile != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithSharedConfigProfile(cfg.AWSProfile),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return a, fmt.Errorf("loading AWS config: %w", err)
	}

	a.s3Client = s3.NewFromConfig(awsCfg)
	a.bucket = cfg.S3Bucket
	return a, nil
}

// MirrorEnabled reports whether copies are also uploaded to S3.
func (a *Archiver) MirrorEnabled() bool {
	return a.s3Client != nil
}

// BatchDir returns the archive directory for a batch.
func (a *Archiver) BatchDir(batchNumber string) string {
	return filepath.Join(a.historyDir, batchNumber)
}

// ArchiveFile copies src into the batch directory and returns the copy's
// path. The S3 mirror is best-effort: upload failures are logged, never
// returned.
func (a *Archiver) ArchiveFile(ctx context.Context, batchNumber, src string) (string, error) {
	dir := a.BatchDir(batchNumber)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating batch directory: %w", err)
	}

	dest := filepath.Join(dir, filepath.Base(src))
	if err := copyFile(src, dest); err != nil {
		return "", err
	}

	if a.s3Client != nil {
		if err := a.mirror(ctx, batchNumber, dest); err != nil {
			log.Printf("[Archive] S3 mirror failed for %s: %v", filepath.Base(dest), err)
		}
	}
	return dest, nil
}

func (a *Archiver) mirror(ctx context.Context, batchNumber, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	key := fmt.Sprintf("batches/%s/%s", batchNumber, filepath.Base(path))
	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentTypeFor(path)),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying to %s: %w", dest, err)
	}
	return out.Close()
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
