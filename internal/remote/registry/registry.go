// Package registry builds the remote adapter configured for a store.
package registry

import (
	"fmt"

	"github.com/timmy/tiercache/internal/config"
	"github.com/timmy/tiercache/internal/remote"
	"github.com/timmy/tiercache/internal/remote/amqp"
	"github.com/timmy/tiercache/internal/remote/odata"
	"github.com/timmy/tiercache/internal/remote/s3archive"
	"github.com/timmy/tiercache/internal/storage"
)

// New creates the adapter for the store's type.
// Parameters:
//   - cfg: validated store configuration.
//
// Returns:
//   - remote.Adapter: adapter connected to the store's remote archive.
//   - error: non-nil if the type is unknown or the connection fails.
func New(cfg *config.StoreConfig) (remote.Adapter, error) {
	switch cfg.Type {
	case config.StoreTypeOData:
		return odata.New(odata.Config{
			BaseURL:  cfg.OData.BaseURL,
			Username: cfg.OData.Username,
			Password: cfg.OData.Password,
			Token:    cfg.OData.Token,
			Timeout:  cfg.OData.Timeout,
		}), nil

	case config.StoreTypeS3:
		store, err := storage.NewStorage(&storage.S3Config{
			Type:        storage.StorageType(cfg.S3.Type),
			Endpoint:    cfg.S3.Endpoint,
			AccessKey:   cfg.S3.AccessKey,
			SecretKey:   cfg.S3.SecretKey,
			UseSSL:      cfg.S3.UseSSL,
			Bucket:      cfg.S3.Bucket,
			Region:      cfg.S3.Region,
			Prefix:      cfg.S3.Prefix,
			RestoreDays: cfg.S3.RestoreDays,
			RestoreTier: cfg.S3.RestoreTier,
		})
		if err != nil {
			return nil, fmt.Errorf("store %q: %w", cfg.Name, err)
		}
		return s3archive.New(store), nil

	case config.StoreTypeAMQP:
		a, err := amqp.Dial(amqp.Config{
			URL:          cfg.AMQP.URL,
			RequestQueue: cfg.AMQP.RequestQueue,
			StatusQueue:  cfg.AMQP.StatusQueue,
			Timeout:      cfg.AMQP.Timeout,
			MaxJobAge:    cfg.AMQP.MaxJobAge,
		})
		if err != nil {
			return nil, fmt.Errorf("store %q: %w", cfg.Name, err)
		}
		return a, nil
	}
	return nil, fmt.Errorf("store %q: unknown type %q", cfg.Name, cfg.Type)
}
