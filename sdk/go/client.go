package trustroomsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal trust room HTTP API client. Exactly one of SystemKey,
// BearerToken or GuestToken is normally set.
type Client struct {
	BaseURL     string
	BasePath    string
	SystemKey   string
	BearerToken string
	GuestToken  string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api/trust",
		Timeout:  10 * time.Second,
	}
}

// Step is one milestone of a case.
type Step struct {
	Step      int        `json:"step"`
	Name      string     `json:"name"`
	Done      bool       `json:"done"`
	Confirmed bool       `json:"confirmed"`
	Date      *time.Time `json:"date"`
}

// Case represents the API case model (partial).
type Case struct {
	ID            string    `json:"id"`
	CaseName      string    `json:"caseName"`
	AgentID       string    `json:"agentId"`
	PropertyTitle *string   `json:"propertyTitle"`
	CurrentStep   int       `json:"currentStep"`
	Status        string    `json:"status"`
	Steps         []Step    `json:"steps"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Display is a masked party name.
type Display struct {
	Name      string `json:"name"`
	FullText  string `json:"fullText"`
	Anonymous bool   `json:"anonymous"`
}

// CaseView is a case as the caller may see it.
type CaseView struct {
	Case  Case    `json:"case"`
	Role  string  `json:"role"`
	Buyer Display `json:"buyer"`
	Agent Display `json:"agent"`
}

// Progress is returned by step and buyer-info writes.
type Progress struct {
	CaseID      string    `json:"caseId"`
	Version     int64     `json:"version"`
	Status      string    `json:"status"`
	CurrentStep int       `json:"currentStep"`
	Steps       []Step    `json:"steps"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type WakeResult struct {
	CaseID         string    `json:"caseId"`
	PreviousStatus string    `json:"previousStatus"`
	Status         string    `json:"status"`
	WokenAt        time.Time `json:"wokenAt"`
}

type GuestLink struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Path      string    `json:"path"`
}

type CreatedCase struct {
	Case      Case      `json:"case"`
	GuestLink GuestLink `json:"guestLink"`
}

type CreateCaseRequest struct {
	CaseName      string  `json:"caseName"`
	AgentID       string  `json:"agentId,omitempty"`
	AgentName     string  `json:"agentName,omitempty"`
	AgentCompany  string  `json:"agentCompany,omitempty"`
	PropertyID    *string `json:"propertyId,omitempty"`
	PropertyTitle *string `json:"propertyTitle,omitempty"`
}

type BuyerInfo struct {
	CaseID string `json:"caseId"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email,omitempty"`
}

type UpgradeResult struct {
	CaseID  string `json:"caseId"`
	Message string `json:"message"`
}

type StartCaseRequest struct {
	PropertyID string `json:"propertyId"`
	UserName   string `json:"userName,omitempty"`
}

type StartedCase struct {
	CaseID     string    `json:"caseId"`
	BuyerName  string    `json:"buyerName"`
	Registered bool      `json:"isRegistered"`
	GuestLink  GuestLink `json:"guestLink"`
}

// MyCase is one open case of the signed-in buyer.
type MyCase struct {
	ID            string    `json:"id"`
	PropertyTitle string    `json:"propertyTitle"`
	AgentName     string    `json:"agentName"`
	CurrentStep   int       `json:"currentStep"`
	StepName      string    `json:"stepName"`
	Status        string    `json:"status"`
	Path          string    `json:"trustRoomPath"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Health struct {
	Status             string `json:"status"`
	Store              string `json:"store"`
	SideEffectFailures int64  `json:"sideEffectFailures"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// Wake moves a dormant case back to active.
func (c *Client) Wake(ctx context.Context, caseID string) (WakeResult, error) {
	var resp WakeResult
	err := c.do(ctx, http.MethodPost, "wake", map[string]string{"caseId": caseID}, &resp)
	return resp, err
}

// CreateCase opens a case. System callers must set AgentID.
func (c *Client) CreateCase(ctx context.Context, in CreateCaseRequest) (CreatedCase, error) {
	var resp CreatedCase
	err := c.do(ctx, http.MethodPost, "cases", in, &resp)
	return resp, err
}

// ListCases returns an agent's cases, newest first.
func (c *Client) ListCases(ctx context.Context, agentID, status string, limit, offset int) ([]CaseView, error) {
	q := url.Values{}
	if agentID != "" {
		q.Set("agentId", agentID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	endpoint := "cases"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Cases []CaseView `json:"cases"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Cases, err
}

// GetCase reads a case.
func (c *Client) GetCase(ctx context.Context, caseID string) (CaseView, error) {
	var resp CaseView
	err := c.do(ctx, http.MethodGet, "cases/"+url.PathEscape(caseID), nil, &resp)
	return resp, err
}

// ToggleStep flips a step's done flag. Agents only.
func (c *Client) ToggleStep(ctx context.Context, caseID string, step int) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("cases/%s/steps/%d/toggle", url.PathEscape(caseID), step), nil, &resp)
	return resp, err
}

// ConfirmStep confirms a done step.
func (c *Client) ConfirmStep(ctx context.Context, caseID string, step int) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("cases/%s/steps/%d/confirm", url.PathEscape(caseID), step), nil, &resp)
	return resp, err
}

// CompleteBuyerInfo records the buyer's contact details.
func (c *Client) CompleteBuyerInfo(ctx context.Context, in BuyerInfo) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodPost, "complete-buyer-info", in, &resp)
	return resp, err
}

// UpgradeCase binds the guest case behind token to the signed-in buyer.
func (c *Client) UpgradeCase(ctx context.Context, token string) (UpgradeResult, error) {
	var resp UpgradeResult
	err := c.do(ctx, http.MethodPost, "upgrade-case", map[string]string{"token": token}, &resp)
	return resp, err
}

// StartCase opens a case on a listing as a consumer. Without a bearer token
// the buyer stays anonymous.
func (c *Client) StartCase(ctx context.Context, in StartCaseRequest) (StartedCase, error) {
	var resp StartedCase
	err := c.do(ctx, http.MethodPost, "auto-create-case", in, &resp)
	return resp, err
}

// MyCases lists the caller's open cases. buyerID is only needed with a
// system key.
func (c *Client) MyCases(ctx context.Context, buyerID string) ([]MyCase, error) {
	endpoint := "my-cases"
	if buyerID != "" {
		endpoint += "?" + url.Values{"buyerId": {buyerID}}.Encode()
	}
	var resp struct {
		Cases []MyCase `json:"cases"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Cases, err
}

// Health reports server and store status.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.SystemKey != "":
		req.Header.Set("X-System-Key", c.SystemKey)
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.GuestToken != "":
		req.Header.Set("X-Guest-Token", c.GuestToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil || resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
