// Package radar monitors the drugs patients are currently on for new
// safety, regulatory, and competitor signals. Findings come from a
// model-backed scanner, land in the radar_alert table (deduplicated by a
// unique index over normalized drug+title), and optionally feed a daily
// spoken briefing artifact.
package radar

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trialsense/trialsense/internal/platform/ai"
)

const (
	CategoryAdverseEvent = "adverse_event"
	CategoryRegulatory   = "regulatory"
	CategoryCompetitor   = "competitor"
)

var validCategories = map[string]bool{
	CategoryAdverseEvent: true, CategoryRegulatory: true, CategoryCompetitor: true,
}

var validSeverities = map[string]bool{
	"high": true, "medium": true, "low": true,
}

// Alert maps to the radar_alert table. Drug and Title keep their original
// casing; the dedup index normalizes them on its own. EventDate is the
// scanner-reported date string (ISO YYYY-MM-DD by contract), stored
// verbatim.
type Alert struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Drug        string    `db:"drug" json:"drug"`
	Category    string    `db:"category" json:"category"`
	Severity    string    `db:"severity" json:"severity"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Source      string    `db:"source" json:"source"`
	SourceURL   *string   `db:"source_url" json:"source_url,omitempty"`
	EventDate   string    `db:"event_date" json:"event_date"`
	IsNew       bool      `db:"is_new" json:"is_new"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AlertFromFinding converts a scanner finding into a storable alert.
// Category and severity are normalized to lowercase before validation; a
// finding outside the contract is rejected here rather than at the
// database constraint.
func AlertFromFinding(f ai.Finding) (*Alert, error) {
	a := &Alert{
		Drug:        strings.TrimSpace(f.Drug),
		Category:    strings.ToLower(strings.TrimSpace(f.Category)),
		Severity:    strings.ToLower(strings.TrimSpace(f.Severity)),
		Title:       strings.TrimSpace(f.Title),
		Description: f.Description,
		Source:      f.Source,
		EventDate:   strings.TrimSpace(f.Date),
		IsNew:       true,
	}
	if url := strings.TrimSpace(f.SourceURL); url != "" {
		a.SourceURL = &url
	}
	if a.Drug == "" {
		return nil, fmt.Errorf("drug is required")
	}
	if a.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if !validCategories[a.Category] {
		return nil, fmt.Errorf("invalid category: %s", f.Category)
	}
	if !validSeverities[a.Severity] {
		return nil, fmt.Errorf("invalid severity: %s", f.Severity)
	}
	return a, nil
}

// Finding converts the alert back into the wire shape the briefing
// composer consumes.
func (a *Alert) Finding() ai.Finding {
	f := ai.Finding{
		Drug:        a.Drug,
		Category:    a.Category,
		Severity:    a.Severity,
		Title:       a.Title,
		Description: a.Description,
		Source:      a.Source,
		Date:        a.EventDate,
	}
	if a.SourceURL != nil {
		f.SourceURL = *a.SourceURL
	}
	return f
}
