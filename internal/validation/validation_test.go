package validation

import (
	"strings"
	"testing"

	"github.com/aegisfield/aegis/internal/types"
)

func validDraft() types.ReportDraft {
	return types.ReportDraft{
		IncidentType: types.IncidentFlood,
		Severity:     types.SeverityHigh,
		Description:  "water rising fast",
		Location:     types.Location{Lat: 6.9, Lng: 79.8, AccuracyMeters: 10},
	}
}

func TestValidateDraft_Valid(t *testing.T) {
	if errs := ValidateDraft(validDraft()); errs != nil {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidateDraft_BlankSeverityAllowed(t *testing.T) {
	draft := validDraft()
	draft.Severity = ""
	if errs := ValidateDraft(draft); errs != nil {
		t.Errorf("blank severity should be accepted (type default applies), got %v", errs)
	}
}

func TestValidateDraft_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*types.ReportDraft)
		field  string
	}{
		{"unknown incident type", func(d *types.ReportDraft) { d.IncidentType = "tornado" }, "incidentType"},
		{"unknown severity", func(d *types.ReportDraft) { d.Severity = "extreme" }, "severity"},
		{"lat out of range", func(d *types.ReportDraft) { d.Location.Lat = 91 }, "location.lat"},
		{"lng out of range", func(d *types.ReportDraft) { d.Location.Lng = -181 }, "location.lng"},
		{"negative accuracy", func(d *types.ReportDraft) { d.Location.AccuracyMeters = -1 }, "location.accuracyMeters"},
		{"oversized description", func(d *types.ReportDraft) { d.Description = strings.Repeat("x", MaxDescriptionLength+1) }, "description"},
		{"invalid utf8", func(d *types.ReportDraft) { d.Description = string([]byte{0xff, 0xfe}) }, "description"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft := validDraft()
			tc.mutate(&draft)

			errs := ValidateDraft(draft)
			if errs == nil {
				t.Fatal("expected validation errors")
			}
			found := false
			for _, e := range errs {
				if e.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %s, got %v", tc.field, errs)
			}
		})
	}
}

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("name", "  "); err == nil {
		t.Error("expected error for whitespace-only value")
	}
	if err := ValidateRequired("name", "ok"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
