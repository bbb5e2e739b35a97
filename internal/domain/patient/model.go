package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trialsense/trialsense/internal/platform/ai"
)

// Patient maps to the patient table. Optional text columns store empty
// strings rather than NULLs; absence means "not captured yet".
type Patient struct {
	ID                  uuid.UUID         `db:"id" json:"id"`
	Name                string            `db:"name" json:"name"`
	Condition           string            `db:"condition" json:"condition"`
	ConditionNormalized string            `db:"condition_normalized" json:"condition_normalized,omitempty"`
	Histology           string            `db:"histology" json:"histology,omitempty"`
	Stage               string            `db:"stage" json:"stage,omitempty"`
	LineOfTherapy       string            `db:"line_of_therapy" json:"line_of_therapy,omitempty"`
	PriorTreatments     []string          `db:"prior_treatments" json:"prior_treatments"`
	CurrentTreatments   []string          `db:"current_treatments" json:"current_treatments"`
	Biomarkers          map[string]string `db:"biomarkers" json:"biomarkers"`
	ECOG                string            `db:"ecog" json:"ecog,omitempty"`
	Age                 *int              `db:"age" json:"age,omitempty"`
	Sex                 string            `db:"sex" json:"sex,omitempty"`
	CNSInvolvement      *bool             `db:"cns_involvement" json:"cns_involvement,omitempty"`
	MetastaticSites     []string          `db:"metastatic_sites" json:"metastatic_sites,omitempty"`
	Comorbidities       []string          `db:"comorbidities" json:"comorbidities,omitempty"`
	OrganFunction       string            `db:"organ_function" json:"organ_function,omitempty"`
	City                string            `db:"city" json:"city,omitempty"`
	Country             string            `db:"country" json:"country"`
	Lat                 *float64          `db:"lat" json:"lat,omitempty"`
	Lng                 *float64          `db:"lng" json:"lng,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}

// Summary is the list-view projection of a patient. TrialCount counts the
// currently selected trials.
type Summary struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Condition  string    `db:"condition" json:"condition"`
	Age        *int      `db:"age" json:"age,omitempty"`
	Sex        string    `db:"sex" json:"sex,omitempty"`
	Stage      string    `db:"stage" json:"stage,omitempty"`
	TrialCount int       `db:"trial_count" json:"trial_count"`
}

// TrialSelection maps to the patient_trial table: one evaluated trial saved
// against a patient. Selected marks membership in the patient's shortlist.
type TrialSelection struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	NCTID         string    `db:"nct_id" json:"nct_id"`
	FitScore      int       `db:"fit_score" json:"fit_score"`
	FitCategory   string    `db:"fit_category" json:"fit_category"`
	MeetsCriteria []string  `db:"meets_criteria" json:"meets_criteria"`
	FailsCriteria []string  `db:"fails_criteria" json:"fails_criteria"`
	MissingInfo   []string  `db:"missing_info" json:"missing_info"`
	Explanation   string    `db:"explanation" json:"explanation"`
	Selected      bool      `db:"selected" json:"selected"`
	Title         string    `db:"-" json:"title,omitempty"`
	Phase         string    `db:"-" json:"phase,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ProfileUpdate is a partial patient edit. Nil fields are left unchanged;
// providing a slice or map replaces the stored value wholesale.
type ProfileUpdate struct {
	Name              *string           `json:"name"`
	Age               *int              `json:"age"`
	Sex               *string           `json:"sex"`
	Condition         *string           `json:"condition"`
	Stage             *string           `json:"stage"`
	ECOG              *string           `json:"ecog"`
	LineOfTherapy     *string           `json:"line_of_therapy"`
	PriorTreatments   []string          `json:"prior_treatments"`
	CurrentTreatments []string          `json:"current_treatments"`
	Biomarkers        map[string]string `json:"biomarkers"`
}

// Profile converts the stored record to the pipeline's profile shape.
func (p *Patient) Profile() ai.Profile {
	prof := ai.Profile{
		Condition:           p.Condition,
		ConditionNormalized: p.ConditionNormalized,
		Histology:           p.Histology,
		Stage:               p.Stage,
		LineOfTherapy:       p.LineOfTherapy,
		PriorTreatments:     p.PriorTreatments,
		CurrentTreatments:   p.CurrentTreatments,
		Biomarkers:          p.Biomarkers,
		ECOG:                ai.ECOG(p.ECOG),
		Age:                 p.Age,
		Sex:                 p.Sex,
		CNSInvolvement:      p.CNSInvolvement,
		MetastaticSites:     p.MetastaticSites,
		Comorbidities:       p.Comorbidities,
		OrganFunction:       p.OrganFunction,
	}
	if prof.PriorTreatments == nil {
		prof.PriorTreatments = []string{}
	}
	if prof.Biomarkers == nil {
		prof.Biomarkers = map[string]string{}
	}
	if p.City != "" {
		prof.Location = &ai.Location{City: p.City, Country: p.Country, Lat: p.Lat, Lng: p.Lng}
	}
	return prof
}

// ApplyProfile copies profile fields onto the record. Name, id, and
// timestamps are left alone. Country falls back to "India" when the profile
// carries no location, matching the extraction default.
func (p *Patient) ApplyProfile(prof ai.Profile) {
	p.Condition = prof.Condition
	p.ConditionNormalized = prof.ConditionNormalized
	p.Histology = prof.Histology
	p.Stage = prof.Stage
	p.LineOfTherapy = prof.LineOfTherapy
	p.PriorTreatments = prof.PriorTreatments
	p.CurrentTreatments = prof.CurrentTreatments
	p.Biomarkers = prof.Biomarkers
	p.ECOG = string(prof.ECOG)
	p.Age = prof.Age
	p.Sex = prof.Sex
	p.CNSInvolvement = prof.CNSInvolvement
	p.MetastaticSites = prof.MetastaticSites
	p.Comorbidities = prof.Comorbidities
	p.OrganFunction = prof.OrganFunction
	if prof.Location != nil {
		p.City = prof.Location.City
		p.Country = prof.Location.Country
		p.Lat = prof.Location.Lat
		p.Lng = prof.Location.Lng
	}
	if p.Country == "" {
		p.Country = "India"
	}
}

// NormalizeTreatments cleans a treatment list: entries are trimmed, blanks,
// the literal "none", and anything 2 characters or shorter are dropped, and
// duplicates are removed case-insensitively keeping the first-seen casing.
func NormalizeTreatments(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		clean := strings.TrimSpace(item)
		if clean == "" || len(clean) <= 2 || strings.EqualFold(clean, "none") {
			continue
		}
		key := strings.ToLower(clean)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, clean)
	}
	return out
}
