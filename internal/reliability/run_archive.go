// Package reliability copies persisted runs to S3-compatible object storage
// so they survive the loss of the local database.
package reliability

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/modules/runs"
)

// Uploader is the part of the S3 upload manager the archiver needs
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ArchiveConfig holds the object storage settings
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string // empty for AWS S3
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether a bucket is configured
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// RunArchiver uploads run payloads to object storage
type RunArchiver struct {
	uploader Uploader
	bucket   string
	log      zerolog.Logger
}

// NewRunArchiver creates an archiver on top of an existing uploader
func NewRunArchiver(uploader Uploader, bucket string, log zerolog.Logger) *RunArchiver {
	return &RunArchiver{
		uploader: uploader,
		bucket:   bucket,
		log:      log.With().Str("service", "run_archive").Logger(),
	}
}

// NewS3RunArchiver builds an S3 client from cfg. A custom endpoint switches
// to path-style addressing for S3-compatible stores such as R2 or MinIO.
func NewS3RunArchiver(ctx context.Context, cfg ArchiveConfig, log zerolog.Logger) (*RunArchiver, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewRunArchiver(manager.NewUploader(client), cfg.Bucket, log), nil
}

// ObjectKey returns runs/<yyyy>/<mm>/<id>.msgpack for the run creation month
func ObjectKey(run *runs.Run) string {
	created := run.CreatedAt.UTC()
	return fmt.Sprintf("runs/%04d/%02d/%s.msgpack", created.Year(), int(created.Month()), run.ID)
}

// Archive uploads the msgpack encoded proposal of run
func (a *RunArchiver) Archive(ctx context.Context, run *runs.Run) error {
	payload, err := runs.EncodeProposal(run.Proposal)
	if err != nil {
		return err
	}

	start := time.Now()
	key := ObjectKey(run)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/msgpack"),
		Metadata: map[string]string{
			"as-of":  run.AsOf.Format("2006-01-02"),
			"source": run.Source,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload run %s: %w", run.ID, err)
	}

	a.log.Info().
		Str("key", key).
		Int("bytes", len(payload)).
		Dur("duration_ms", time.Since(start)).
		Msg("Run archived")
	return nil
}
