package registry

import (
	"strings"
	"time"

	"github.com/trialsense/trialsense/internal/domain/trial"
)

// study mirrors the protocolSection layout of an API v2 study record. Only
// the modules the matcher consumes are declared; the rest of the payload is
// ignored during decode.
type study struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID      string `json:"nctId"`
			BriefTitle string `json:"briefTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus      string `json:"overallStatus"`
			LastUpdatePostDate struct {
				Date string `json:"date"`
			} `json:"lastUpdatePostDateStruct"`
		} `json:"statusModule"`
		DesignModule struct {
			Phases []string `json:"phases"`
		} `json:"designModule"`
		ConditionsModule struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		ArmsInterventionsModule struct {
			Interventions []struct {
				Name string `json:"name"`
			} `json:"interventions"`
		} `json:"armsInterventionsModule"`
		EligibilityModule struct {
			EligibilityCriteria string `json:"eligibilityCriteria"`
			MinimumAge          string `json:"minimumAge"`
			MaximumAge          string `json:"maximumAge"`
			Sex                 string `json:"sex"`
		} `json:"eligibilityModule"`
		SponsorCollaboratorsModule struct {
			LeadSponsor struct {
				Name string `json:"name"`
			} `json:"leadSponsor"`
		} `json:"sponsorCollaboratorsModule"`
		ContactsLocationsModule struct {
			Locations []struct {
				Facility string `json:"facility"`
				City     string `json:"city"`
				State    string `json:"state"`
				Country  string `json:"country"`
				GeoPoint *struct {
					Lat float64 `json:"lat"`
					Lon float64 `json:"lon"`
				} `json:"geoPoint"`
			} `json:"locations"`
		} `json:"contactsLocationsModule"`
	} `json:"protocolSection"`
}

// toTrial flattens the study into a trial.Trial. The repo assigns the row id
// on upsert; the parser leaves it zero.
func (s study) toTrial(fetchedAt time.Time) trial.Trial {
	p := s.ProtocolSection

	phase := "N/A"
	if len(p.DesignModule.Phases) > 0 {
		phase = strings.Join(p.DesignModule.Phases, ", ")
	}

	interventions := make([]string, 0, len(p.ArmsInterventionsModule.Interventions))
	for _, iv := range p.ArmsInterventionsModule.Interventions {
		interventions = append(interventions, iv.Name)
	}

	eligibility := p.EligibilityModule.EligibilityCriteria
	if eligibility == "" {
		eligibility = "No eligibility criteria provided"
	}

	sex := p.EligibilityModule.Sex
	if sex == "" {
		sex = "ALL"
	}

	sponsor := p.SponsorCollaboratorsModule.LeadSponsor.Name
	if sponsor == "" {
		sponsor = "Unknown"
	}

	locs := p.ContactsLocationsModule.Locations
	if len(locs) > maxLocations {
		locs = locs[:maxLocations]
	}
	sites := make([]trial.Site, 0, len(locs))
	for _, loc := range locs {
		site := trial.Site{
			Facility: loc.Facility,
			City:     loc.City,
			State:    loc.State,
			Country:  loc.Country,
		}
		if site.Facility == "" {
			site.Facility = "Unknown"
		}
		if loc.GeoPoint != nil {
			lat, lng := loc.GeoPoint.Lat, loc.GeoPoint.Lon
			site.Lat = &lat
			site.Lng = &lng
		}
		sites = append(sites, site)
	}

	var registryUpdatedAt *time.Time
	if raw := p.StatusModule.LastUpdatePostDate.Date; raw != "" {
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			registryUpdatedAt = &ts
		}
	}

	conditions := p.ConditionsModule.Conditions
	if conditions == nil {
		conditions = []string{}
	}

	return trial.Trial{
		NCTID:             p.IdentificationModule.NCTID,
		Title:             p.IdentificationModule.BriefTitle,
		Phase:             phase,
		OverallStatus:     p.StatusModule.OverallStatus,
		Conditions:        conditions,
		Interventions:     interventions,
		EligibilityText:   eligibility,
		MinAge:            p.EligibilityModule.MinimumAge,
		MaxAge:            p.EligibilityModule.MaximumAge,
		Sex:               sex,
		Sponsor:           sponsor,
		Locations:         sites,
		SourceURL:         trial.StudyURL(p.IdentificationModule.NCTID),
		RegistryUpdatedAt: registryUpdatedAt,
		FetchedAt:         fetchedAt,
	}
}
