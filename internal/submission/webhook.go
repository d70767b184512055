package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"vsoportal/internal/models"
)

// Submitter posts assessment requests to the configured webhook.
type Submitter struct {
	url    string
	client *http.Client
}

// NewSubmitter builds a submitter for url. A nil client means
// http.DefaultClient; no timeout is added beyond the caller's context.
func NewSubmitter(url string, client *http.Client) *Submitter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Submitter{url: url, client: client}
}

// Submit encodes the selections and sends them in a single POST. It reports
// true only for a 2xx response; every failure is logged, never returned.
func (s *Submitter) Submit(ctx context.Context, client *models.Client, jurist string, selections []Selection) bool {
	if err := s.submit(ctx, client, jurist, selections); err != nil {
		id := ""
		if client != nil {
			id = client.ID
		}
		log.Printf("submit assessment for client %s failed: %v", id, err)
		return false
	}
	return true
}

func (s *Submitter) submit(ctx context.Context, client *models.Client, jurist string, selections []Selection) error {
	if client == nil {
		return fmt.Errorf("client required")
	}
	docs, err := Encode(ctx, selections)
	if err != nil {
		return fmt.Errorf("encode documents: %w", err)
	}
	body, err := json.Marshal(models.AssessmentPayload{
		SchemaVersion: models.AssessmentSchemaVersion,
		Client:        client,
		Jurist:        jurist,
		Documents:     docs,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	log.Printf("assessment for client %s sent: %d documents, %d bytes", client.ID, len(docs), len(body))
	return nil
}
