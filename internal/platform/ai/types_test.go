package ai

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestECOG_UnmarshalNumber(t *testing.T) {
	var p Profile
	if err := json.Unmarshal([]byte(`{"condition":"x","ecog":1}`), &p); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if p.ECOG != "1" {
		t.Errorf("ECOG = %q, want \"1\"", p.ECOG)
	}
}

func TestECOG_UnmarshalString(t *testing.T) {
	var p Profile
	if err := json.Unmarshal([]byte(`{"condition":"x","ecog":"1-2, declining"}`), &p); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if p.ECOG != "1-2, declining" {
		t.Errorf("ECOG = %q", p.ECOG)
	}
}

func TestECOG_UnmarshalNull(t *testing.T) {
	var p Profile
	if err := json.Unmarshal([]byte(`{"condition":"x","ecog":null}`), &p); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if p.ECOG != "" {
		t.Errorf("ECOG = %q, want empty", p.ECOG)
	}
}

func TestECOG_UnmarshalRejectsOtherTypes(t *testing.T) {
	var p Profile
	if err := json.Unmarshal([]byte(`{"condition":"x","ecog":[1]}`), &p); err == nil {
		t.Fatal("expected error for array ecog")
	}
}

func TestProfile_MarshalOmitsEmptyOptionals(t *testing.T) {
	raw, err := json.Marshal(Profile{Condition: "TNBC", PriorTreatments: []string{}, Biomarkers: map[string]string{}})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	s := string(raw)
	for _, absent := range []string{"ecog", "age", "cns_involvement", "location", "stage"} {
		if strings.Contains(s, `"`+absent+`"`) {
			t.Errorf("marshaled profile should omit %q: %s", absent, s)
		}
	}
	if !strings.Contains(s, `"prior_treatments":[]`) {
		t.Errorf("prior_treatments should marshal as empty list: %s", s)
	}
}
