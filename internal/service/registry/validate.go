package registry

import (
	"fmt"
	"regexp"
	"strings"

	"vsoportal/internal/models"
)

var (
	emailPattern    = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)
	postcodePattern = regexp.MustCompile(`^[1-9][0-9]{3}[A-Z]{2}$`)
)

// letter pairs the postal service never hands out
var reservedPostcodeSuffixes = map[string]bool{"SA": true, "SD": true, "SS": true}

// FieldError names one offending form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return fmt.Sprintf("invalid client: %s", strings.Join(names, ", "))
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// IsValidEmail reports whether s looks like an email address.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// NormalizePostcode validates a Dutch postcode and formats it as "1234 AB".
func NormalizePostcode(raw string) (string, bool) {
	cleaned := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if !postcodePattern.MatchString(cleaned) {
		return "", false
	}
	if reservedPostcodeSuffixes[cleaned[4:]] {
		return "", false
	}
	return cleaned[:4] + " " + cleaned[4:], true
}

// validateForm checks the form and returns the normalised client.
func validateForm(form *models.ClientFormData) (*models.Client, error) {
	verr := &ValidationError{}
	for _, f := range form.Fields() {
		if strings.TrimSpace(f.Value) == "" {
			verr.add(f.Name, "is required")
		}
	}
	client := form.ToClient()

	if client.Email != "" && !IsValidEmail(client.Email) {
		verr.add("email", "is not a valid email address")
	}
	if c := client.Employer.ContactPerson.Email; c != "" && !IsValidEmail(c) {
		verr.add("werkgever_contactpersoon_email", "is not a valid email address")
	}
	if client.Postcode != "" {
		if pc, ok := NormalizePostcode(client.Postcode); ok {
			client.Postcode = pc
		} else {
			verr.add("postcode", "is not a valid Dutch postcode")
		}
	}
	if client.Employer.Postcode != "" {
		if pc, ok := NormalizePostcode(client.Employer.Postcode); ok {
			client.Employer.Postcode = pc
		} else {
			verr.add("werkgever_postcode", "is not a valid Dutch postcode")
		}
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return client, nil
}
