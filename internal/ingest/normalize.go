// Package ingest turns status feed snapshots into stored incident records.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/bissquit/incident-escalator/internal/statusfeed"
	"github.com/google/uuid"
)

// ErrNormalization is returned when the summary document has an unexpected shape.
var ErrNormalization = errors.New("unexpected status summary structure")

// componentNamespace seeds the UUIDv5 ids of component-only incidents.
var componentNamespace = uuid.MustParse("4f1c1b2e-8a5d-4d7e-9a43-0f7f1b6c2d19")

const (
	unknownComponentName   = "unknown_component"
	unknownComponentStatus = "unknown"
)

// Normalize converts a summary document into incident records in feed order:
// listed incidents first, then faulty components without a group.
// It performs no I/O; now stamps the synthesized component incidents.
func Normalize(summary json.RawMessage, now time.Time) ([]domain.IncidentRecord, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(summary, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNormalization, err)
	}

	incidents, err := decodeList[statusfeed.Incident](doc, "incidents")
	if err != nil {
		return nil, err
	}
	components, err := decodeList[statusfeed.Component](doc, "components")
	if err != nil {
		return nil, err
	}

	records := make([]domain.IncidentRecord, 0, len(incidents))

	for _, inc := range incidents {
		affected := make([]string, 0)
		for _, c := range components {
			if c.GroupID != nil && *c.GroupID == inc.ID && c.Status != domain.ComponentOperational {
				affected = append(affected, c.Name)
			}
		}

		records = append(records, domain.IncidentRecord{
			ID:                 inc.ID,
			Name:               inc.Name,
			Impact:             domain.ParseImpact(inc.Impact),
			Status:             inc.Status,
			CreatedAt:          inc.CreatedAt,
			UpdatedAt:          inc.UpdatedAt,
			ResolvedAt:         inc.ResolvedAt,
			AffectedComponents: affected,
			LastUpdateID:       inc.LastUpdateID,
		})
	}

	for _, c := range components {
		if c.Status == domain.ComponentOperational || c.HasGroup() {
			continue
		}

		name := c.Name
		if name == "" {
			name = unknownComponentName
		}
		status := c.Status
		if status == "" {
			status = unknownComponentStatus
		}

		records = append(records, domain.IncidentRecord{
			ID:                 componentIncidentID(c),
			Name:               name,
			Impact:             domain.ImpactUnknown,
			Status:             status,
			CreatedAt:          now,
			UpdatedAt:          now,
			AffectedComponents: []string{name},
		})
	}

	return records, nil
}

// componentIncidentID derives a stable id for one outage episode of a component,
// so repeated snapshots of the same outage map to the same record.
func componentIncidentID(c statusfeed.Component) string {
	key := c.ID
	if key == "" {
		key = c.Name
	}
	key += "|" + c.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return domain.GeneratedIDPrefix + uuid.NewSHA1(componentNamespace, []byte(key)).String()
}

// decodeList decodes doc[key] into a list of T. A missing key is an empty list;
// a non-array value or a non-object entry is a normalization error. An object
// entry that fails to decode, such as one with a bad timestamp, is skipped.
func decodeList[T any](doc map[string]json.RawMessage, key string) ([]T, error) {
	raw, ok := doc[key]
	if !ok {
		return nil, nil
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: %q is not a list", ErrNormalization, key)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrNormalization, key, err)
	}

	out := make([]T, 0, len(entries))
	for i, entry := range entries {
		if trimmed := bytes.TrimSpace(entry); len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, fmt.Errorf("%w: %s[%d] is not an object", ErrNormalization, key, i)
		}
		var v T
		if err := json.Unmarshal(entry, &v); err != nil {
			slog.Warn("skipping malformed status feed entry", "list", key, "index", i, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
