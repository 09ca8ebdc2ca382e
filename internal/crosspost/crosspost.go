// Package crosspost projects rows owned by foreign schedulers into the
// scheduled item shape. Projected items are read-only.
package crosspost

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
)

const externalPrefix = "ext:"

// ExternalQuery mirrors the first-party list filter. TeamID is the caller's
// team in this system. It is not a scoping key: foreign team ids live in a
// disjoint id space, so rows are scoped by their target account only.
type ExternalQuery struct {
	Status           string
	Limit            int
	TeamID           string
	ScopedAccountIDs []string
}

type Adapter interface {
	Source() string
	ListExternalItems(ctx context.Context, userID int64, q ExternalQuery) ([]*models.ScheduledItem, error)
}

func ExternalID(source, refID string) string {
	return externalPrefix + source + ":" + refID
}

func IsExternalID(id string) bool {
	return strings.HasPrefix(id, externalPrefix)
}

// ParseExternalID splits an id built by ExternalID.
func ParseExternalID(id string) (source, refID string, ok bool) {
	if !IsExternalID(id) {
		return "", "", false
	}
	source, refID, ok = strings.Cut(strings.TrimPrefix(id, externalPrefix), ":")
	if !ok || source == "" || refID == "" {
		return "", "", false
	}
	return source, refID, true
}

// UnknownStatusError reports a foreign status pair with no local mapping.
type UnknownStatusError struct {
	Source  string
	Primary string
	Outcome string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("%s: unrecognized status %q (platform outcome %q)", e.Source, e.Primary, e.Outcome)
}

// visible applies the same containment rule as first-party rows: a row
// routed to an account must target one of the scoped ids, and an unrouted
// row must belong to the user.
func visible(accountID *string, authorID, userID int64, scoped []string) bool {
	if accountID == nil {
		return authorID == userID
	}
	for _, id := range scoped {
		if id == *accountID {
			return true
		}
	}
	return false
}

// collect pages through a foreign source until limit items survive
// projection or the source runs dry. page reports how many raw rows it read
// and which of them were kept.
func collect(limit int, page func(offset int) (int, []*models.ScheduledItem, error)) ([]*models.ScheduledItem, error) {
	items := []*models.ScheduledItem{}
	if limit <= 0 {
		return items, nil
	}
	for offset := 0; len(items) < limit; {
		read, kept, err := page(offset)
		if err != nil {
			return nil, err
		}
		items = append(items, kept...)
		if read < limit {
			break
		}
		offset += read
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func kindFor(media []string) string {
	switch len(media) {
	case 0:
		return models.PostKindText
	case 1:
		switch strings.ToLower(path.Ext(media[0])) {
		case ".mp4", ".mov", ".m4v", ".webm":
			return models.PostKindVideo
		}
		return models.PostKindImage
	default:
		return models.PostKindCarousel
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// reportUnknown logs at error level and counts a skipped row.
func reportUnknown(m *metrics.Registry, source, ref string, err error) {
	slog.Error("skipping external row", "source", source, "ref", ref, "error", err)
	if m != nil {
		m.ExternalUnknownStatus.WithLabelValues(source).Inc()
	}
}
