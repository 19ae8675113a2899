package staging

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/timmy/tiercache/internal/logger"
	"github.com/timmy/tiercache/internal/source"
)

// ManifestFileName is the JSONL manifest file name in staging sources.
const ManifestFileName = "manifest.jsonl"

// ManifestItem represents a line of manifest.jsonl.
type ManifestItem struct {
	UUID       string `json:"uuid"`
	Identifier string `json:"identifier"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum"`
}

// Adapter implements the Source interface for a staged product manifest.
type Adapter struct {
	manifestPath string
	sourceID     string
	items        []source.ProductItem
	skipped      int
	loaded       bool
}

// NewAdapter reads <basePath>/<sourceID>/manifest.jsonl.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{
		manifestPath: filepath.Join(basePath, sourceID, ManifestFileName),
		sourceID:     sourceID,
	}
}

// NewManifestAdapter creates a staging adapter reading the given manifest file.
func NewManifestAdapter(manifestPath string) *Adapter {
	id := filepath.Base(filepath.Dir(manifestPath))
	return &Adapter{manifestPath: manifestPath, sourceID: id}
}

func (a *Adapter) GetSourceID() string {
	return "staging:" + a.sourceID
}

func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Staging (%s)", a.sourceID)
}

// FetchBatch pages through the manifest. The cursor is the index of the next item.
func (a *Adapter) FetchBatch(_ context.Context, cursor string, limit int) ([]source.ProductItem, string, error) {
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return nil, "", fmt.Errorf("failed to load staging items: %w", err)
		}
		a.loaded = true
	}

	from := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
		from = n
	}
	if from >= len(a.items) {
		return nil, "", nil
	}

	to := min(from+limit, len(a.items))
	next := ""
	if to < len(a.items) {
		next = strconv.Itoa(to)
	}
	return a.items[from:to], next, nil
}

// loadItems loads all items from the manifest file
func (a *Adapter) loadItems() error {
	file, err := os.Open(a.manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("manifest file not found: %s", a.manifestPath)
		}
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.items = []source.ProductItem{}
	seen := make(map[string]bool)

	// Read line by line (JSON Lines format)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil || item.UUID == "" || item.Identifier == "" {
			a.skipped++
			logger.GetDefault().WithFields(logger.Fields{
				"manifest": a.manifestPath,
				"line":     lineNo,
			}).Warn("Skipping malformed manifest line")
			continue
		}
		if seen[item.UUID] {
			a.skipped++
			continue
		}
		seen[item.UUID] = true

		a.items = append(a.items, source.ProductItem{
			UUID:       item.UUID,
			Identifier: item.Identifier,
			Size:       item.Size,
			Checksum:   item.Checksum,
		})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	slices.SortFunc(a.items, func(x, y source.ProductItem) int {
		return cmp.Compare(x.Identifier, y.Identifier)
	})

	return nil
}

// Skipped returns how many manifest lines were malformed or duplicated.
func (a *Adapter) Skipped() int {
	return a.skipped
}

// ListStagingSources returns the subdirectories of basePath that hold a manifest.
// A missing basePath yields no sources.
func ListStagingSources(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(basePath, entry.Name(), ManifestFileName)); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

var _ source.Source = (*Adapter)(nil)
