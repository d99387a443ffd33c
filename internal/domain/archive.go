package domain

import "context"

// AuditArchive stores evaluations outside the primary database for long-term retention.
type AuditArchive interface {
	Archive(ctx context.Context, eval *Evaluation) error
}

// ArchiveConfig holds S3 audit archive settings.
type ArchiveConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Region          string `json:"region" yaml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AccessKeyID     string `json:"-" yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"-" yaml:"secretAccessKey,omitempty"`
	UsePathStyle    bool   `json:"usePathStyle" yaml:"usePathStyle"`
}
