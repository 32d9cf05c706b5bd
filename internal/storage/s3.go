package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"snapkeep/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type objectUploader interface {
	UploadObject(ctx context.Context, input *transfermanager.UploadObjectInput, optFns ...func(*transfermanager.Options)) (*transfermanager.UploadObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Client struct {
	api       s3API
	uploader  objectUploader
	presigner objectPresigner
	bucket    string
	prefix    string

	putTimeout      time.Duration
	listPageTimeout time.Duration
	deleteTimeout   time.Duration
	presignTimeout  time.Duration
}

// NewS3Client validates cfg and builds a client. Every remote call is bounded
// by timeout; a zero timeout leaves deadlines to the caller's context.
func NewS3Client(ctx context.Context, cfg config.S3Config, timeout time.Duration) (*S3Client, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		return nil, errors.New("s3 region is required")
	}
	endpoint, err := normalizeEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	prefix, err := normalizePrefix(cfg.Prefix)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, errors.New("s3 access_key and secret_key must be set together")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %w", ErrStoreUnavailable, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Client{
		api:             client,
		uploader:        transfermanager.New(client),
		presigner:       s3.NewPresignClient(client),
		bucket:          bucket,
		prefix:          prefix,
		putTimeout:      timeout,
		listPageTimeout: timeout,
		deleteTimeout:   timeout,
		presignTimeout:  timeout,
	}, nil
}

func (c *S3Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if c.uploader == nil {
		return fmt.Errorf("%w: s3 uploader is not configured", ErrPutFailed)
	}
	fullKey, err := c.prefixedKey(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPutFailed, err)
	}

	ctx, cancel := withTimeout(ctx, c.putTimeout)
	defer cancel()

	input := &transfermanager.UploadObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(fullKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.uploader.UploadObject(ctx, input); err != nil {
		return fmt.Errorf("%w: put object %s: %w", ErrPutFailed, key, err)
	}
	return nil
}

func (c *S3Client) List(ctx context.Context, prefix, continuationToken string) (ListPage, error) {
	if c.api == nil {
		return ListPage{}, fmt.Errorf("%w: s3 api client is not configured", ErrListingPageFailed)
	}
	if err := validateListPrefix(prefix); err != nil {
		return ListPage{}, fmt.Errorf("%w: %w", ErrListingPageFailed, err)
	}

	ctx, cancel := withTimeout(ctx, c.listPageTimeout)
	defer cancel()

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(c.prefix + prefix),
		MaxKeys: aws.Int32(MaxListPageSize),
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}
	out, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return ListPage{}, fmt.Errorf("%w: list objects %q: %w", ErrListingPageFailed, prefix, err)
	}
	if out == nil {
		return ListPage{}, fmt.Errorf("%w: list objects %q: empty response", ErrListingPageFailed, prefix)
	}

	page := ListPage{Objects: make([]Object, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		key, ok := strings.CutPrefix(*obj.Key, c.prefix)
		if !ok || key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		page.Objects = append(page.Objects, Object{
			Key:          key,
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified).UTC(),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
		if page.NextToken == "" {
			return ListPage{}, fmt.Errorf("%w: list objects %q: truncated page without continuation token", ErrListingPageFailed, prefix)
		}
	}
	return page, nil
}

func (c *S3Client) Delete(ctx context.Context, key string) error {
	if c.api == nil {
		return fmt.Errorf("%w: s3 api client is not configured", ErrDeleteFailed)
	}
	fullKey, err := c.prefixedKey(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}

	ctx, cancel := withTimeout(ctx, c.deleteTimeout)
	defer cancel()

	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: delete object %s: %w", ErrDeleteFailed, key, err)
	}
	return nil
}

func (c *S3Client) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if c.presigner == nil {
		return "", fmt.Errorf("%w: s3 presigner is not configured", ErrPresignFailed)
	}
	fullKey, err := c.prefixedKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPresignFailed, err)
	}

	ctx, cancel := withTimeout(ctx, c.presignTimeout)
	defer cancel()

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fullKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %w", ErrPresignFailed, key, err)
	}
	return req.URL, nil
}

// Ping checks that the bucket exists and the credentials can reach it.
func (c *S3Client) Ping(ctx context.Context) error {
	if c.api == nil {
		return fmt.Errorf("%w: s3 api client is not configured", ErrStoreUnavailable)
	}

	ctx, cancel := withTimeout(ctx, c.listPageTimeout)
	defer cancel()

	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: head bucket %s: %s: %w", ErrStoreUnavailable, c.bucket, apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("%w: head bucket %s: %w", ErrStoreUnavailable, c.bucket, err)
	}
	return nil
}

func (c *S3Client) prefixedKey(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return c.prefix + key, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func validateListPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	return ValidateKey(strings.TrimSuffix(prefix, "/"))
}

func normalizeEndpoint(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("s3 endpoint %q must be a valid http(s) URL", trimmed)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("s3 endpoint %q must use http or https", trimmed)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func normalizePrefix(raw string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	if trimmed == "" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", fmt.Errorf("s3 prefix %q must be relative", raw)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." {
			return "", fmt.Errorf("s3 prefix %q must not contain parent traversal", raw)
		}
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." {
		return "", nil
	}
	return cleaned + "/", nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
