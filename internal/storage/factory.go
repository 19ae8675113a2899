package storage

import (
	"errors"
	"net/url"
	"strings"
)

// NewStorage opens the archive bucket described by cfg. An empty Type is inferred
// from the endpoint host.
func NewStorage(cfg *S3Config) (ArchiveStorage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if cfg.Type == "" {
		cfg.Type = inferType(cfg.Endpoint)
	}
	return NewS3Storage(cfg)
}

func inferType(endpoint string) StorageType {
	if endpoint == "" {
		return StorageTypeS3
	}
	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(host)
	if strings.HasSuffix(host, ".r2.cloudflarestorage.com") {
		return StorageTypeR2
	}
	if strings.HasSuffix(host, ".amazonaws.com") {
		return StorageTypeS3
	}
	return StorageTypeS3Compatible
}
