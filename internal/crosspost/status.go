package crosspost

import (
	"strings"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
)

// statusTable is the vocabulary of one foreign scheduler. Primary values are
// the row status; outcomes are the per-platform delivery result nested in
// the row.
type statusTable struct {
	source string

	cancelled []string
	completed []string
	failed    []string
	pending   []string

	posted   []string
	failures []string
	neutral  []string
}

// resolve applies, in order: cancelled, completed with a posted outcome, a
// failure outcome, then the primary status alone.
func (t statusTable) resolve(primary, outcome string) (string, error) {
	p := normalize(primary)
	o := normalize(outcome)

	if o != "" && !in(o, t.posted) && !in(o, t.failures) && !in(o, t.neutral) {
		return "", &UnknownStatusError{Source: t.source, Primary: primary, Outcome: outcome}
	}

	switch {
	case in(p, t.cancelled):
		return models.ItemStatusCancelled, nil
	case in(p, t.completed) && in(o, t.posted):
		return models.ItemStatusCompleted, nil
	case in(o, t.failures):
		return models.ItemStatusFailed, nil
	case in(p, t.completed):
		return models.ItemStatusCompleted, nil
	case in(p, t.failed):
		return models.ItemStatusFailed, nil
	case in(p, t.pending):
		return models.ItemStatusScheduled, nil
	}
	return "", &UnknownStatusError{Source: t.source, Primary: primary, Outcome: outcome}
}

// primariesFor lists every primary status that can resolve to status under
// some outcome. Nil means the status puts no bound on primaries.
func (t statusTable) primariesFor(status string) []string {
	switch status {
	case models.ItemStatusCancelled:
		return t.cancelled
	case models.ItemStatusCompleted:
		return t.completed
	case models.ItemStatusScheduled:
		return t.pending
	case models.ItemStatusFailed:
		out := make([]string, 0, len(t.failed)+len(t.completed)+len(t.pending))
		out = append(out, t.failed...)
		out = append(out, t.completed...)
		return append(out, t.pending...)
	}
	return nil
}

var composerStatuses = statusTable{
	source:    SourceComposer,
	cancelled: []string{"cancelled", "canceled"},
	completed: []string{"completed", "partially_completed"},
	failed:    []string{"failed"},
	pending:   []string{"pending", "scheduled", "processing", "publishing"},
	posted:    []string{"posted", "published"},
	failures:  []string{"failed", "timeout", "not_connected", "skipped_variants", "error"},
	neutral:   []string{"pending", "queued", "processing"},
}

var campaignStatuses = statusTable{
	source:    SourceCampaigns,
	cancelled: []string{"canceled", "cancelled"},
	completed: []string{"sent", "completed"},
	failed:    []string{"error", "failed"},
	pending:   []string{"queued", "sending", "paused"},
	posted:    []string{"posted", "delivered"},
	failures:  []string{"failed", "timeout", "not_connected", "skipped", "error"},
	neutral:   []string{"pending", "queued"},
}

// MapComposerStatus maps a composer row status and this platform's nested
// outcome to a local status.
func MapComposerStatus(primary, outcome string) (string, error) {
	return composerStatuses.resolve(primary, outcome)
}

// MapCampaignStatus maps a campaign post status and this platform's delivery
// outcome to a local status.
func MapCampaignStatus(primary, outcome string) (string, error) {
	return campaignStatuses.resolve(primary, outcome)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func in(s string, set []string) bool {
	if s == "" {
		return false
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
