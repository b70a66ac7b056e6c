package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/digkill/creditgate/internal/models"
)

type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	Prefix       string
}

// Archiver writes billing gaps to S3 as one JSON object each, so they
// survive the database that failed to record them.
type Archiver struct {
	cfg    Config
	client *s3.Client
}

func NewArchiver(cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "billing-gaps"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &Archiver{
		cfg:    cfg,
		client: s3.New(options),
	}, nil
}

func (a *Archiver) Record(ctx context.Context, gap models.BillingGap) error {
	data, err := json.Marshal(gap)
	if err != nil {
		return fmt.Errorf("marshal billing gap: %w", err)
	}

	key := a.objectKey(gap)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive billing gap %s: %w", key, err)
	}
	return nil
}

// objectKey groups gaps by the UTC day they happened on.
func (a *Archiver) objectKey(gap models.BillingGap) string {
	id := gap.ID
	if id == "" {
		id = uuid.NewString()
	}
	at := gap.OccurredAt.UTC()
	prefix := strings.Trim(a.cfg.Prefix, "/")
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", at.Year(), at.Month(), at.Day()), id+".json")
}
