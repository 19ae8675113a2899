package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// Checksums maps a hash algorithm name ("md5", "sha256") to its hex digest.
type Checksums map[string]string

// Value implements the driver.Valuer interface for database serialization.
func (c Checksums) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (c *Checksums) Scan(value interface{}) error {
	if value == nil {
		*c = Checksums{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Checksums")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, c)
}

// Product is a catalog record of something that exists in a remote archive and
// may or may not be present in the local cache.
type Product struct {
	UUID       string     `gorm:"type:text;primaryKey" json:"uuid"`
	Identifier string     `gorm:"type:text;not null;uniqueIndex" json:"identifier"`
	Size       int64      `gorm:"default:0" json:"size"`
	Online     bool       `gorm:"default:false" json:"online"`
	Checksums  Checksums  `gorm:"type:text" json:"checksums,omitempty"`
	RestoredAt *time.Time `json:"restored_at,omitempty"`
	EvictedAt  *time.Time `json:"evicted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string {
	return "products"
}

// ProductInfo is what every product handle exposes, whether or not its bytes are local.
type ProductInfo interface {
	GetUUID() string
	GetName() string
	GetSize() int64
}

// Streamable is implemented by product handles whose bytes can be read locally.
// Callers tell a cached product from a remote proxy by asserting this interface.
type Streamable interface {
	ProductInfo
	Open() (io.ReadCloser, error)
}

// ProxyProduct stands for a product that exists remotely but is not cached.
type ProxyProduct struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// NewProxyProduct builds a proxy from a catalog record.
func NewProxyProduct(p *Product) *ProxyProduct {
	return &ProxyProduct{UUID: p.UUID, Name: p.Identifier, Size: p.Size}
}

func (p *ProxyProduct) GetUUID() string { return p.UUID }
func (p *ProxyProduct) GetName() string { return p.Name }
func (p *ProxyProduct) GetSize() int64  { return p.Size }
