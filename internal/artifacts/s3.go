package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/services"
)

// S3Objects talks to MinIO or AWS S3.
type S3Objects struct {
	client   *s3.Client
	region   string
	endpoint string
}

// NewS3Objects builds a client from the artifacts section. A configured
// endpoint switches to path-style addressing as MinIO requires.
func NewS3Objects(ctx context.Context, cfg config.Artifacts) (*S3Objects, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.Secure)
	var client *s3.Client
	if endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}
	return &S3Objects{client: client, region: cfg.Region, endpoint: endpoint}, nil
}

// endpointURL accepts MinIO-style host:port endpoints and adds the scheme.
func endpointURL(endpoint string, secure bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if secure {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// Endpoint returns the resolved endpoint URL, empty for AWS.
func (o *S3Objects) Endpoint() string {
	return o.endpoint
}

// Get streams an object body. A missing key maps to services.ErrNotFound.
func (o *S3Objects) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	output, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) || isHTTPStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", services.ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	return output.Body, nil
}

// Put uploads body under key.
func (o *S3Objects) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// EnsureBucket creates bucket unless HeadBucket finds it.
func (o *S3Objects) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := o.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if o.region != "" && o.region != "us-east-1" && o.endpoint == "" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(o.region),
		}
	}
	if _, err := o.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// BucketExists reports whether bucket is reachable with the configured
// credentials.
func (o *S3Objects) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := o.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) || isHTTPStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("head bucket %s: %w", bucket, err)
}

func isHTTPStatus(err error, status int) bool {
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == status
}
