// Package archive writes evaluation records to S3-compatible object storage
// for long-term audit retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

// ErrBucketRequired is returned when the archive is enabled without a bucket.
var ErrBucketRequired = errors.New("archive bucket is required")

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive implements domain.AuditArchive.
type S3Archive struct {
	client putter
	bucket string
	prefix string
}

var _ domain.AuditArchive = (*S3Archive)(nil)

// New builds an S3 archive from configuration. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg domain.ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	slog.Info("audit archive initialized", "bucket", cfg.Bucket, "region", cfg.Region, "prefix", cfg.Prefix)

	return &S3Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Archive uploads the evaluation as JSON.
func (a *S3Archive) Archive(ctx context.Context, eval *domain.Evaluation) error {
	if eval == nil || eval.ID == "" || eval.TenantID == "" {
		return fmt.Errorf("evaluation id and tenant are required")
	}

	data, err := json.Marshal(eval)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}

	key := a.Key(eval)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"tenant-id": eval.TenantID,
			"category":  string(eval.Category),
			"status":    eval.Status,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive evaluation %s: %w", eval.ID, err)
	}

	slog.Debug("evaluation archived", "evaluation_id", eval.ID, "key", key)
	return nil
}

// Key returns prefix/tenant/YYYY/MM/DD/<id>.json for an evaluation, dated by
// its UTC timestamp.
func (a *S3Archive) Key(eval *domain.Evaluation) string {
	ts := eval.Timestamp.UTC()
	return path.Join(a.prefix, eval.TenantID, ts.Format("2006/01/02"), eval.ID+".json")
}
