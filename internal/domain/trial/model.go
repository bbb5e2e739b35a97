package trial

import (
	"time"

	"github.com/google/uuid"
)

// StudyBaseURL is the public ClinicalTrials.gov study page prefix.
const StudyBaseURL = "https://clinicaltrials.gov/study/"

// Trial maps to the trial table. Rows mirror what the registry reported at
// fetch time; re-fetching the same NCT id overwrites the mutable fields.
type Trial struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	NCTID             string     `db:"nct_id" json:"nct_id"`
	Title             string     `db:"title" json:"title"`
	Phase             string     `db:"phase" json:"phase"`
	OverallStatus     string     `db:"overall_status" json:"overall_status"`
	Conditions        []string   `db:"conditions" json:"conditions"`
	Interventions     []string   `db:"interventions" json:"interventions"`
	EligibilityText   string     `db:"eligibility_text" json:"eligibility_text"`
	MinAge            string     `db:"min_age" json:"min_age"`
	MaxAge            string     `db:"max_age" json:"max_age"`
	Sex               string     `db:"sex" json:"sex"`
	Sponsor           string     `db:"sponsor" json:"sponsor"`
	Locations         []Site     `db:"locations" json:"locations"`
	SourceURL         string     `db:"source_url" json:"source_url"`
	RegistryUpdatedAt *time.Time `db:"registry_updated_at" json:"registry_updated_at,omitempty"`
	FetchedAt         time.Time  `db:"fetched_at" json:"fetched_at"`
}

// Site is one recruiting location of a trial, stored in the locations JSONB
// column. Lat/Lng stay nil until a geocoding pass fills them in.
type Site struct {
	Facility string   `json:"facility"`
	City     string   `json:"city"`
	State    string   `json:"state,omitempty"`
	Country  string   `json:"country"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
}

// SearchQuery narrows a registry search. Condition is the primary clinical
// filter; Term adds free-text narrowing (biomarker, drug name). Limit caps
// the number of studies requested.
type SearchQuery struct {
	Condition string `json:"condition"`
	Term      string `json:"term,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// StudyURL returns the public study page for an NCT id.
func StudyURL(nctID string) string {
	return StudyBaseURL + nctID
}

// NearestSite returns the first listed location, or nil when the trial has
// none. Without geocoded coordinates the registry's own ordering is the best
// proximity signal available.
func (t *Trial) NearestSite() *Site {
	if len(t.Locations) == 0 {
		return nil
	}
	return &t.Locations[0]
}
