package source

import "context"

// ProductItem is a product advertised by a catalog source.
type ProductItem struct {
	UUID       string
	Identifier string // logical product name
	Size       int64
	Checksum   string // "algorithm:hex", may be empty
}

// Source is a paged feed of catalog entries.
type Source interface {
	GetSourceID() string
	GetDisplayName() string

	// FetchBatch returns up to limit items after cursor ("" for the first page).
	// An empty nextCursor ends the feed.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []ProductItem, nextCursor string, err error)
}
