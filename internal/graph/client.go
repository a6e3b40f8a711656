package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is the production mailbox REST endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client issues authenticated requests against the mailbox REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a mailbox API client. An empty baseURL selects the
// production endpoint; tests point it at a local server.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// GetMessage fetches a message with its attachments expanded.
func (c *Client) GetMessage(ctx context.Context, token string, mbx Mailbox, id string) (*Message, error) {
	u := fmt.Sprintf("%s/%s/messages/%s?$expand=attachments", c.baseURL, mbx.endpoint(), url.PathEscape(id))

	var msg Message
	if err := c.do(ctx, token, http.MethodGet, u, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateMessage creates a draft in the given mailbox and returns the id of
// the created message.
func (c *Client) CreateMessage(ctx context.Context, token string, mbx Mailbox, draft *Draft) (string, error) {
	u := fmt.Sprintf("%s/%s/messages", c.baseURL, mbx.endpoint())

	var created createResponse
	if err := c.do(ctx, token, http.MethodPost, u, draft, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", &APIError{Code: codeResponseParse, Message: "create response missing message id"}
	}
	return created.ID, nil
}

// SendMessage invokes the send action on an existing draft.
func (c *Client) SendMessage(ctx context.Context, token string, mbx Mailbox, id string) error {
	u := fmt.Sprintf("%s/%s/messages/%s/send", c.baseURL, mbx.endpoint(), url.PathEscape(id))
	return c.do(ctx, token, http.MethodPost, u, nil, nil)
}

// FindMessages runs a filtered search across the whole mailbox.
func (c *Client) FindMessages(ctx context.Context, token string, mbx Mailbox, q Query) ([]Message, error) {
	u := fmt.Sprintf("%s/%s/messages?%s", c.baseURL, mbx.endpoint(), q.encode())

	var list listResponse
	if err := c.do(ctx, token, http.MethodGet, u, nil, &list); err != nil {
		return nil, err
	}
	return list.Value, nil
}

// FindFolderMessages runs a filtered search scoped to one well-known folder
// ("drafts" or "inbox").
func (c *Client) FindFolderMessages(ctx context.Context, token string, mbx Mailbox, folder string, q Query) ([]Message, error) {
	u := fmt.Sprintf("%s/%s/mailFolders('%s')/messages?%s", c.baseURL, mbx.endpoint(), folder, q.encode())

	var list listResponse
	if err := c.do(ctx, token, http.MethodGet, u, nil, &list); err != nil {
		return nil, err
	}
	return list.Value, nil
}

// TranslateIDs converts Exchange identifiers to REST identifiers. The
// result preserves input order; ids the service could not convert come back
// empty.
func (c *Client) TranslateIDs(ctx context.Context, token string, ids []string) ([]string, error) {
	u := c.baseURL + "/me/translateExchangeIds"
	body := &translateRequest{
		InputIDs:     ids,
		SourceIDType: "ewsId",
		TargetIDType: "restId",
	}

	var resp translateResponse
	if err := c.do(ctx, token, http.MethodPost, u, body, &resp); err != nil {
		return nil, err
	}

	bySource := make(map[string]string, len(resp.Value))
	for _, v := range resp.Value {
		bySource[v.SourceID] = v.TargetID
	}

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = bySource[id]
	}
	return out, nil
}

// do performs one request and decodes the response into out (when non-nil).
// Non-2xx responses come back as classified *APIError values.
func (c *Client) do(ctx context.Context, token, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{
			Code:      codeResponseParse,
			Message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return &APIError{
				StatusCode: resp.StatusCode,
				Code:       codeResponseParse,
				Message:    fmt.Sprintf("failed to read response: %v", err),
				transient:  true,
			}
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{
				StatusCode: resp.StatusCode,
				Code:       codeResponseParse,
				Message:    fmt.Sprintf("failed to parse response: %v", err),
				transient:  true,
			}
		}
		return nil
	}

	raw, _ := io.ReadAll(resp.Body)

	var errResp apiErrorResponse
	if jsonErr := json.Unmarshal(raw, &errResp); jsonErr == nil && errResp.Error.Code != "" {
		return classifyError(resp.StatusCode, errResp.Error.Code, errResp.Error.Message)
	}
	return classifyError(resp.StatusCode, "", string(raw))
}

// encode renders the query as an OData query string.
func (q Query) encode() string {
	values := url.Values{}
	if q.Filter != "" {
		values.Set("$filter", q.Filter)
	}
	if q.Top > 0 {
		values.Set("$top", strconv.Itoa(q.Top))
	}
	if q.OrderBy != "" {
		values.Set("$orderby", q.OrderBy)
	}
	return values.Encode()
}

// EscapeFilterValue quotes a literal for use inside an OData $filter
// expression. Single quotes are doubled per the OData escaping rule.
func EscapeFilterValue(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
