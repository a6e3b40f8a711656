// Package submit creates placement records from emails and sequences the
// full submission pipeline, including the best-effort forward.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Client issues requests against the placement submission API.
type Client struct {
	baseURL         string
	subscriptionKey string
	httpClient      *http.Client
}

// NewClient creates a submission API client.
func NewClient(baseURL, subscriptionKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		subscriptionKey: subscriptionKey,
		httpClient:      httpClient,
	}
}

// PlacementRequest is the input for placement creation.
type PlacementRequest struct {
	ProductCode   string
	EmailSender   string
	EmailSubject  string
	EmailReceived time.Time
	EML           []byte
}

// Placement is the record the submission API creates from an email.
type Placement struct {
	PlacementID string `json:"placementId"`
	IngestionID string `json:"ingestionId"`
	RunID       string `json:"runId"`
}

// APIError is a non-success response from the submission API. Placement
// creation has no retry ladder: any failure here is fatal to the whole
// submit operation.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("submission API error (HTTP %d): %s", e.StatusCode, e.Body)
}

// CreatePlacement submits the placement record as a multipart form with
// the EML bytes as the files part.
func (c *Client) CreatePlacement(ctx context.Context, token string, req *PlacementRequest) (*Placement, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := map[string]string{
		"productCode":           req.ProductCode,
		"emailSender":           req.EmailSender,
		"emailSubject":          req.EmailSubject,
		"emailReceivedDateTime": req.EmailReceived.UTC().Format(time.RFC3339),
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="files"; filename="message.eml"`)
	header.Set("Content-Type", "message/rfc822")
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(req.EML); err != nil {
		return nil, fmt.Errorf("failed to write EML bytes: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/placements", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read submission response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var placement Placement
	if err := json.Unmarshal(body, &placement); err != nil {
		return nil, fmt.Errorf("failed to parse submission response: %w", err)
	}
	if placement.PlacementID == "" {
		return nil, fmt.Errorf("submission response missing placementId")
	}
	return &placement, nil
}
