package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/bodystore/pkg/bodies"
	"github.com/platinummonkey/bodystore/pkg/observability"
)

const (
	// DefaultPrefix is prepended to every object key.
	DefaultPrefix = "bodies/"

	// DefaultUploadConcurrency bounds the concurrent PutObject calls of one flush.
	DefaultUploadConcurrency = 16

	metaBodyID    = "body-id"
	metaBodySize  = "body-size"
	metaExpiresAt = "expires-at"
	tagExpiresOn  = "expires-on"

	backendName = "s3"
)

// API is the subset of the S3 client used by Store.
type API interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *awss3.CreateBucketInput, optFns ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error)
}

// Config configures the object-store backend
type Config struct {
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	Prefix            string
	UsePathStyle      bool
	UploadConcurrency int
	CreateBucket      bool
	Retry             bodies.RetryConfig
}

// Store writes each body as one object keyed by its id.
type Store struct {
	client      API
	bucket      string
	prefix      string
	concurrency int
	retry       *bodies.RetryPolicy
	logger      logrus.FieldLogger
	metrics     *observability.Metrics

	now func() time.Time
}

// NewClient builds an S3 client. Static credentials are used when both keys
// are set (MinIO, explicit keys), otherwise the default credential chain.
func NewClient(ctx context.Context, cfg Config) (*awss3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return awss3.NewFromConfig(awsConfig, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Open connects to the bucket, creating it first when configured to.
func Open(ctx context.Context, cfg Config, logger logrus.FieldLogger, metrics *observability.Metrics) (*Store, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := New(client, cfg, logger, metrics)
	if cfg.CreateBucket {
		if err := createBucketIfNotExists(ctx, client, cfg.Bucket, cfg.Region); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
		}
	} else if err := store.HealthCheck(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// New builds a Store on top of client.
func New(client API, cfg Config, logger logrus.FieldLogger, metrics *observability.Metrics) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithFields(logrus.Fields{"backend": backendName, "bucket": cfg.Bucket})

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = DefaultUploadConcurrency
	}

	return &Store{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      prefix,
		concurrency: concurrency,
		retry:       bodies.NewRetryPolicy(cfg.Retry, logger),
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Key returns the object key for a body id.
func (s *Store) Key(id string) string {
	return s.prefix + id
}

// Flush uploads every body of the batch concurrently, each with its own
// retries. All bodies are attempted; failures are joined into one error.
func (s *Store) Flush(ctx context.Context, batch []*bodies.WriteItem) error {
	items := bodies.Dedupe(batch)

	ctx, span := observability.Tracer().Start(ctx, "S3.Flush",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.Int("batch_size", len(items)),
		),
	)
	defer span.End()

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, item := range items {
		g.Go(func() error {
			key := s.Key(item.ID())
			err := s.retry.Do(ctx, "s3 put "+key, func(ctx context.Context) error {
				return s.put(ctx, key, item)
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		err := fmt.Errorf("failed to upload %d of %d bodies: %w", len(errs), len(items), errors.Join(errs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return err
	}

	span.SetStatus(codes.Ok, "bodies uploaded")
	return nil
}

func (s *Store) put(ctx context.Context, key string, item *bodies.WriteItem) error {
	contentType := item.ContentType()
	if contentType == "" {
		contentType = bodies.DefaultContentType
	}

	input := &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(item.Body()),
		ContentLength: aws.Int64(int64(item.BodySize())),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			metaBodyID:   item.ID(),
			metaBodySize: strconv.Itoa(item.BodySize()),
		},
	}
	if expires := item.ExpiresAt(); !expires.IsZero() {
		input.Metadata[metaExpiresAt] = expires.UTC().Format(time.RFC3339)
		tags := url.Values{}
		tags.Set(tagExpiresOn, expires.UTC().Format("2006-01-02"))
		input.Tagging = aws.String(tags.Encode())
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Fetch downloads one body. The returned Body streams from S3 and must be
// closed by the caller.
func (s *Store) Fetch(ctx context.Context, id string) (*bodies.FetchResult, error) {
	key := s.Key(id)
	ctx, span := observability.Tracer().Start(ctx, "S3.Fetch",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			s.metrics.ObserveFetch(backendName, "miss")
			return bodies.NotFound(), nil
		}
		s.metrics.ObserveFetch(backendName, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object")
		return nil, fmt.Errorf("failed to get object from s3: %w", err)
	}

	expiresAt, hasExpiry := expiry(out.Metadata)
	if hasExpiry && !s.now().Before(expiresAt) {
		out.Body.Close()
		s.metrics.ObserveFetch(backendName, "miss")
		return bodies.NotFound(), nil
	}

	size := -1
	if out.ContentLength != nil {
		size = int(*out.ContentLength)
	} else if n, err := strconv.Atoi(out.Metadata[metaBodySize]); err == nil {
		size = n
	}

	s.metrics.ObserveFetch(backendName, "hit")
	result := bodies.Found(out.Body, aws.ToString(out.ContentType), size, strings.Trim(aws.ToString(out.ETag), `"`))
	result.ExpiresAt = expiresAt
	return result, nil
}

// expiry reads the expiry stamped on an object. Unparseable stamps are
// treated as no expiry.
func expiry(metadata map[string]string) (time.Time, bool) {
	raw, ok := metadata[metaExpiresAt]
	if !ok {
		return time.Time{}, false
	}
	expiresAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return expiresAt, true
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func createBucketIfNotExists(ctx context.Context, client API, bucket, region string) error {
	if _, err := client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	input := &awss3.CreateBucketInput{Bucket: aws.String(bucket)}
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	if _, err := client.CreateBucket(ctx, input); err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isNotFoundError(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
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

func isBucketAlreadyExistsError(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var exists *types.BucketAlreadyExists
	return errors.As(err, &exists)
}
