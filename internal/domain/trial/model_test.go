package trial

import (
	"testing"
)

func TestStudyURL(t *testing.T) {
	got := StudyURL("NCT01234567")
	want := "https://clinicaltrials.gov/study/NCT01234567"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestTrial_NearestSite(t *testing.T) {
	tr := &Trial{}
	if site := tr.NearestSite(); site != nil {
		t.Errorf("expected nil site for trial without locations, got %+v", site)
	}

	tr.Locations = []Site{
		{Facility: "MD Anderson", City: "Houston", State: "TX", Country: "United States"},
		{Facility: "Mayo Clinic", City: "Rochester", State: "MN", Country: "United States"},
	}
	site := tr.NearestSite()
	if site == nil {
		t.Fatal("expected a site")
	}
	if site.Facility != "MD Anderson" {
		t.Errorf("expected first listed site, got %s", site.Facility)
	}
}
