// Package storage implements the object storage client (SPEC_FULL.md §4.7,
// §6.3): storing per-user artifacts (images, JSON blobs produced by tools)
// in an S3-compatible bucket and purging them when their owning thread is
// deleted.
//
// Grounded structurally in intelligencedev-manifold's
// internal/objectstore/s3.go (aws-sdk-go-v2 client construction: static
// credentials, custom endpoint + path-style addressing for MinIO-style
// deployments). The put/delete semantics follow
// original_source/.../utils.py's save_to_storage/delete_from_storage: keys
// are "<user_id>/<uuid>", a category/thread_id pair is carried as object
// metadata rather than encoded into the key, and thread deletion purges by
// listing the user's prefix and filtering on the thread_id metadata tag
// rather than by key pattern.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Category tags what kind of artifact an object holds, carried in its
// metadata the way original_source's save_to_storage does.
type Category string

const (
	CategoryImage Category = "image"
	CategoryJSON  Category = "json"
)

// Config configures a Client. Endpoint and UsePathStyle exist to target
// MinIO or another S3-compatible service in non-AWS deployments, mirroring
// the teacher's S3Config shape.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Client wraps an S3-compatible object store.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a Client from cfg.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}

	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{s3: s3.NewFromConfig(awsCfg, s3Opts...), bucket: cfg.Bucket}, nil
}

// Put stores body under a freshly generated key scoped to userID and
// returns the generated identifier (the part of the key after the
// user_id/ prefix), matching save_to_storage's return contract.
func (c *Client) Put(ctx context.Context, userID uuid.UUID, category Category, contentType string, body []byte, threadID *uuid.UUID) (string, error) {
	identifier := uuid.NewString()
	key := userID.String() + "/" + identifier

	meta := map[string]string{"category": string(category)}
	if threadID != nil {
		meta["thread_id"] = threadID.String()
	}

	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}
	return identifier, nil
}

// Get retrieves the object stored for userID under identifier.
func (c *Client) Get(ctx context.Context, userID uuid.UUID, identifier string) ([]byte, error) {
	key := userID.String() + "/" + identifier
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

// GetMetadata returns the metadata tags stored alongside an object,
// without downloading its body.
func (c *Client) GetMetadata(ctx context.Context, userID uuid.UUID, identifier string) (map[string]string, error) {
	key := userID.String() + "/" + identifier
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: head %s: %w", key, err)
	}
	return out.Metadata, nil
}

// PresignedURL returns a time-limited GET URL for an object, using the s3
// client's presign support the way the teacher's SAS-token generation in
// azure_storage.py serves the equivalent purpose for Azure blobs.
func (c *Client) PresignedURL(ctx context.Context, userID uuid.UUID, identifier string, expiresIn time.Duration) (string, error) {
	key := userID.String() + "/" + identifier
	presigner := s3.NewPresignClient(c.s3)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// DeleteThreadObjects deletes every object belonging to userID whose
// thread_id metadata tag matches threadID, in batches of up to 1000 keys
// (the S3 DeleteObjects limit), mirroring delete_from_storage exactly:
// list the user's prefix, filter on thread_id metadata one HEAD at a time,
// batch-delete the matches.
func (c *Client) DeleteThreadObjects(ctx context.Context, userID, threadID uuid.UUID) error {
	prefix := userID.String() + "/"
	threadTag := threadID.String()

	var toDelete []s3types.ObjectIdentifier
	flush := func() error {
		if len(toDelete) == 0 {
			return nil
		}
		_, err := c.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &s3types.Delete{Objects: toDelete, Quiet: aws.Bool(true)},
		})
		toDelete = toDelete[:0]
		if err != nil {
			return fmt.Errorf("storage: delete objects for thread %s: %w", threadID, err)
		}
		return nil
	}

	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("storage: list objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			head, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: obj.Key})
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return fmt.Errorf("storage: head %s: %w", aws.ToString(obj.Key), err)
			}
			if head.Metadata["thread_id"] != threadTag {
				continue
			}
			toDelete = append(toDelete, s3types.ObjectIdentifier{Key: obj.Key})
			if len(toDelete) == 1000 {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey) ||
		strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}
