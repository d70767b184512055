package models

import (
	"fmt"
	"strings"
)

// DocumentType is the category a staff member files an upload under.
type DocumentType string

const (
	DocumentVSO                 DocumentType = "VSO"
	DocumentArbeidsovereenkomst DocumentType = "Arbeidsovereenkomst"
	DocumentLoonstrook          DocumentType = "Loonstrook"
	DocumentIdentiteitsbewijs   DocumentType = "Identiteitsbewijs"
	DocumentOverig              DocumentType = "Overig"
)

// DocumentTypes lists the selectable categories in display order.
var DocumentTypes = []DocumentType{
	DocumentVSO,
	DocumentArbeidsovereenkomst,
	DocumentLoonstrook,
	DocumentIdentiteitsbewijs,
	DocumentOverig,
}

var documentLabels = map[DocumentType]string{
	DocumentVSO:                 "Vaststellingsovereenkomst (VSO)",
	DocumentArbeidsovereenkomst: "Arbeidsovereenkomst",
	DocumentLoonstrook:          "Loonstrook",
	DocumentIdentiteitsbewijs:   "Identiteitsbewijs",
	DocumentOverig:              "Overig document",
}

// Label returns the human readable name of the type.
func (t DocumentType) Label() string {
	if l, ok := documentLabels[t]; ok {
		return l
	}
	return string(t)
}

// ParseDocumentType accepts a type tag case-insensitively.
func ParseDocumentType(raw string) (DocumentType, error) {
	raw = strings.TrimSpace(raw)
	for _, t := range DocumentTypes {
		if strings.EqualFold(string(t), raw) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown document type %q", raw)
}

// ProcessedDocument is one encoded file as sent to the webhook.
type ProcessedDocument struct {
	Name         string       `json:"name"`
	OriginalName string       `json:"originalName"`
	Type         DocumentType `json:"type"`
	MimeType     string       `json:"mimeType"`
	FileContent  string       `json:"fileContent"`
}

// AssessmentSchemaVersion is bumped whenever the webhook payload changes shape.
const AssessmentSchemaVersion = 1

// AssessmentPayload is the body posted to the assessment webhook.
type AssessmentPayload struct {
	SchemaVersion int                 `json:"schemaVersion"`
	Client        *Client             `json:"client"`
	Jurist        string              `json:"jurist,omitempty"`
	Documents     []ProcessedDocument `json:"documents"`
}
