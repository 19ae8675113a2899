package remote

import (
	"strings"

	"github.com/timmy/tiercache/internal/domain"
)

// StatusMap translates a remote's own status vocabulary into JobStatus.
// Lookups are case-insensitive.
type StatusMap map[string]domain.JobStatus

// Translate maps a raw status. Unknown values are treated as still running and the
// returned message carries the raw value.
func (m StatusMap) Translate(raw string) (domain.JobStatus, string) {
	if st, ok := m[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return st, ""
	}
	return domain.JobStatusRunning, "unrecognized remote status: " + raw
}
