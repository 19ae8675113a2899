package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// StorageType defines the type of S3-compatible storage
type StorageType string

const (
	StorageTypeR2           StorageType = "r2"
	StorageTypeS3           StorageType = "s3"
	StorageTypeS3Compatible StorageType = "s3compatible"
)

// ErrObjectNotFound is returned when the archive has no object under the key.
var ErrObjectNotFound = errors.New("object not found")

// S3Config holds configuration for S3-compatible archive storage
type S3Config struct {
	Type        StorageType
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	Bucket      string
	Region      string
	Prefix      string
	RestoreDays int32
	RestoreTier string // Standard, Bulk, Expedited
}

// objectAPI is the subset of the S3 client used by S3Storage.
type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	RestoreObject(ctx context.Context, params *s3.RestoreObjectInput, optFns ...func(*s3.Options)) (*s3.RestoreObjectOutput, error)
}

// S3Storage implements ArchiveStorage for S3 Glacier style storage classes
type S3Storage struct {
	client      objectAPI
	bucket      string
	prefix      string
	restoreDays int32
	restoreTier types.Tier
}

// NewS3Storage creates a new S3-compatible archive client
func NewS3Storage(cfg *S3Config) (*S3Storage, error) {
	// Determine region
	region := cfg.Region
	if region == "" {
		if cfg.Type == StorageTypeR2 {
			region = "auto"
		} else {
			region = "us-east-1"
		}
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint == "" {
			return
		}
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		o.BaseEndpoint = aws.String(fmt.Sprintf("%s://%s", scheme, normalizeEndpoint(cfg.Endpoint)))
		o.UsePathStyle = true // Use path-style for S3-compatible services
	})

	return newS3Storage(client, cfg), nil
}

func newS3Storage(client objectAPI, cfg *S3Config) *S3Storage {
	days := cfg.RestoreDays
	if days <= 0 {
		days = 1
	}
	tier := types.Tier(cfg.RestoreTier)
	if tier == "" {
		tier = types.TierStandard
	}
	return &S3Storage{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		restoreDays: days,
		restoreTier: tier,
	}
}

// normalizeEndpoint removes protocol prefix and path from endpoint
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}

	return strings.TrimSuffix(endpoint, "/")
}

func (s *S3Storage) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Stat returns the storage class and restore state of an object
func (s *S3Storage) Stat(ctx context.Context, key string) (*ObjectStatus, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	status := &ObjectStatus{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		StorageClass: string(out.StorageClass),
		Archived:     isArchiveClass(out.StorageClass),
	}
	if out.Restore != nil {
		status.RestoreRequested = true
		status.RestoreOngoing, status.RestoredUntil = parseRestoreHeader(*out.Restore)
	}
	return status, nil
}

// Restore requests a temporary copy of an archived object. A restore that is already
// in progress is not an error.
func (s *S3Storage) Restore(ctx context.Context, key string) error {
	_, err := s.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(s.restoreDays),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: s.restoreTier,
			},
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "RestoreAlreadyInProgress") {
			return nil
		}
		if isNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to restore object: %w", err)
	}
	return nil
}

// Download downloads an object from storage
func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrObjectNotFound
		}
		return nil, 0, fmt.Errorf("failed to download object: %w", err)
	}

	return result.Body, aws.ToInt64(result.ContentLength), nil
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404")
}

func isArchiveClass(class types.StorageClass) bool {
	switch class {
	case types.StorageClassGlacier, types.StorageClassDeepArchive:
		return true
	}
	return false
}

var (
	ongoingPattern = regexp.MustCompile(`ongoing-request="(true|false)"`)
	expiryPattern  = regexp.MustCompile(`expiry-date="([^"]+)"`)
)

// parseRestoreHeader reads the x-amz-restore header, e.g.
// ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"
func parseRestoreHeader(header string) (ongoing bool, expiry *time.Time) {
	if m := ongoingPattern.FindStringSubmatch(header); m != nil {
		ongoing = m[1] == "true"
	}
	if m := expiryPattern.FindStringSubmatch(header); m != nil {
		if t, err := time.Parse(time.RFC1123, m[1]); err == nil {
			expiry = &t
		}
	}
	return ongoing, expiry
}
