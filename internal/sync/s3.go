package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures an S3Destination.
type S3Options struct {
	Bucket string
	Key    string
	Region string
	// Endpoint points at an S3-compatible service such as MinIO and
	// switches to path-style addressing.
	Endpoint string
	// Snapshots also keeps a timestamped copy of every export next to Key.
	Snapshots bool
}

// putter is the part of the S3 client the destination needs.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination stores the export as one object, optionally with dated
// snapshots.
type S3Destination struct {
	api  putter
	opts S3Options
	now  func() time.Time
}

// NewS3Destination resolves credentials through the default AWS chain.
func NewS3Destination(ctx context.Context, opts S3Options) (*S3Destination, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, errors.New("s3 destination needs a bucket and a key")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{api: client, opts: opts, now: time.Now}, nil
}

func (d *S3Destination) Name() string { return "s3://" + d.opts.Bucket + "/" + d.opts.Key }

// snapshotKey places a dated copy under snapshots/ beside the main key.
func (d *S3Destination) snapshotKey(t time.Time) string {
	dir, file := path.Split(d.opts.Key)
	return dir + "snapshots/" + t.UTC().Format("20060102T150405Z") + "-" + file
}

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	keys := []string{d.opts.Key}
	if d.opts.Snapshots {
		keys = append(keys, d.snapshotKey(d.now()))
	}
	for _, key := range keys {
		_, err := d.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(d.opts.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return fmt.Errorf("s3 put %s/%s: %w", d.opts.Bucket, key, err)
		}
	}
	return nil
}
