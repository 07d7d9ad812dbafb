// Package s3 stores blocks as objects in an S3-compatible bucket (AWS S3,
// MinIO). The object key is the CID's text form behind an optional key
// prefix.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

// Config holds explicit construction parameters. Credentials fall back to
// the default AWS chain (environment, shared config, instance role) when
// AccessKeyID is empty.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional; enables a custom endpoint (e.g. MinIO)
	KeyPrefix       string // prepended to every object key
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// MaxAttempts overrides the SDK retry budget when non-zero.
	MaxAttempts int
	// HTTPClient replaces the SDK's HTTP client (used by tests).
	HTTPClient *http.Client
}

// CAS implements storage.CAS on a single bucket.
type CAS struct {
	client *s3.Client
	bucket string
	keyPfx string
	prefix cid.Prefix
}

var _ storage.CAS = (*CAS)(nil)

// New creates an S3-backed CAS that derives CIDs with prefix p.
func New(ctx context.Context, cfg Config, p cid.Prefix) (*CAS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
		if cfg.MaxAttempts > 0 {
			o.RetryMaxAttempts = cfg.MaxAttempts
		}
		// Blocks are small and addressed by their own digest.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	if p == (cid.Prefix{}) {
		p = cidutil.DefaultPrefix
	}
	return &CAS{client: client, bucket: cfg.Bucket, keyPfx: cfg.KeyPrefix, prefix: p}, nil
}

func (c *CAS) key(id cid.Cid) string { return c.keyPfx + id.String() }

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.Sum(c.prefix, data)
	if err != nil {
		return cid.Undef, storage.WriteFailed("s3 put", err)
	}
	ok, err := c.Has(ctx, id)
	if err != nil {
		return cid.Undef, err
	}
	if ok {
		return id, nil
	}

	key := c.key(id)
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &c.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		// Create-only: a concurrent writer of the same CID wins the race.
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if statusOf(err) == http.StatusPreconditionFailed {
			return id, nil
		}
		return cid.Undef, classify("s3 put", err, true)
	}
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := storage.CheckCID(id); err != nil {
		return nil, err
	}
	key := c.key(id)
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		return nil, classify("s3 get", err, false)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, storage.Unavailable("s3 get", err)
	}
	if err := storage.VerifyBlock(id, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	key := c.key(id)
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &c.bucket, Key: &key})
	if err == nil {
		return true, nil
	}
	if err = classify("s3 head", err, false); storage.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// statusOf returns the HTTP status of a service response error, or 0.
func statusOf(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

// classify maps SDK errors into the storage taxonomy: 404 is a miss,
// throttling and 5xx responses and transport failures mean the bucket is
// unreachable, any other rejection of a write is a write failure.
func classify(op string, err error, write bool) error {
	switch code := statusOf(err); {
	case code == http.StatusNotFound:
		return storage.ErrNotFound
	case code == 0, code == http.StatusTooManyRequests, code >= 500:
		return storage.Unavailable(op, err)
	case write:
		return storage.WriteFailed(op, err)
	default:
		return fmt.Errorf("s3: %s: %w", op, err)
	}
}

// Prefix returns the prefix new blocks are addressed under.
func (c *CAS) Prefix() cid.Prefix { return c.prefix }
