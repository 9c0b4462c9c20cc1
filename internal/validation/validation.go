package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aegisfield/aegis/internal/types"
)

// MaxDescriptionLength caps the free-text description of a report.
const MaxDescriptionLength = 4000

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateDraft checks a report draft before it is persisted or allowed
// anywhere near the network. Returns nil when the draft is acceptable.
func ValidateDraft(draft types.ReportDraft) []ValidationError {
	var c Collector

	if !draft.IncidentType.Valid() {
		allowed := make([]string, len(types.IncidentTypes))
		for i, t := range types.IncidentTypes {
			allowed[i] = string(t)
		}
		c.Add(&ValidationError{
			Field:   "incidentType",
			Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
		})
	}

	// Severity is optional; blank means "use the type default".
	if draft.Severity != "" && !draft.Severity.Valid() {
		c.Add(&ValidationError{
			Field:   "severity",
			Message: "must be one of: low, medium, high, critical",
		})
	}

	c.Add(ValidateUTF8("description", draft.Description))
	c.Add(ValidateMaxLength("description", draft.Description, MaxDescriptionLength))
	c.Add(ValidateUTF8("manualAddress", draft.ManualAddress))
	c.Add(ValidateMaxLength("manualAddress", draft.ManualAddress, 500))

	c.Add(ValidateRange("location.lat", draft.Location.Lat, -90, 90))
	c.Add(ValidateRange("location.lng", draft.Location.Lng, -180, 180))
	if draft.Location.AccuracyMeters < 0 {
		c.Add(&ValidationError{
			Field:   "location.accuracyMeters",
			Message: "must not be negative",
		})
	}

	if c.HasErrors() {
		return c.Errors()
	}
	return nil
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateRange returns an error if the value is outside [min, max].
func ValidateRange(field string, value, min, max float64) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %.1f and %.1f", min, max),
		}
	}
	return nil
}
