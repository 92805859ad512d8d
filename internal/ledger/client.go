// Package ledger provides the HTTP client for the approval and posting
// backend.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
	"github.com/Veraticus/the-bills-must-flow/internal/service"
)

// Client implements the LedgerBackend interface against the bills backend
// HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Backend API request/response types
type submitRequest struct {
	MessageID     string   `json:"message_id"`
	ThreadID      string   `json:"thread_id"`
	DocType       string   `json:"doc_type"`
	Vendor        string   `json:"vendor"`
	Amount        *float64 `json:"amount,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	InvoiceNumber string   `json:"invoice_number,omitempty"`
	DueDate       string   `json:"due_date,omitempty"`
	PaymentTerms  string   `json:"payment_terms,omitempty"`
	Confidence    float64  `json:"confidence"`
	Duplicate     bool     `json:"duplicate"`
}

type submitResponse struct {
	Status      string `json:"status"`
	LedgerRef   string `json:"ledger_ref"`
	ApprovalRef string `json:"approval_ref"`
}

type postResponse struct {
	LedgerRef string `json:"ledger_ref"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type snapshotResponse struct {
	Items []snapshotItem `json:"items"`
}

type snapshotItem struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Vendor        string  `json:"vendor"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	InvoiceNumber string  `json:"invoice_number"`
	UpdatedAt     int64   `json:"updated_at"`
}

// NewClient creates a new backend client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// SubmitForApproval sends an item into the backend's approval pipeline.
func (c *Client) SubmitForApproval(ctx context.Context, item *model.QueueItem) (*service.SubmitResult, error) {
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/invoices/submit", submitPayload(item), &resp); err != nil {
		return nil, fmt.Errorf("failed to submit for approval: %w", err)
	}

	if resp.Status != "auto_approved" && resp.Status != "pending_approval" {
		return nil, fmt.Errorf("unexpected submit status %q", resp.Status)
	}

	slog.Debug("Submitted invoice",
		"id", item.Message.ID,
		"status", resp.Status,
		"approval_ref", resp.ApprovalRef)

	return &service.SubmitResult{
		Status:      resp.Status,
		LedgerRef:   resp.LedgerRef,
		ApprovalRef: resp.ApprovalRef,
	}, nil
}

// ApproveAndPost posts an approved item to the ledger and returns the
// ledger reference.
func (c *Client) ApproveAndPost(ctx context.Context, item *model.QueueItem) (string, error) {
	if item.ApprovalRef == "" {
		return "", fmt.Errorf("item %s has no approval ref", item.Message.ID)
	}

	var resp postResponse
	path := fmt.Sprintf("/api/v1/approvals/%s/post", url.PathEscape(item.ApprovalRef))
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to post approval %s: %w", item.ApprovalRef, err)
	}
	return resp.LedgerRef, nil
}

// RejectInvoice marks a submitted item rejected on the backend.
func (c *Client) RejectInvoice(ctx context.Context, item *model.QueueItem, reason string) error {
	if item.ApprovalRef == "" {
		return fmt.Errorf("item %s has no approval ref", item.Message.ID)
	}

	path := fmt.Sprintf("/api/v1/approvals/%s/reject", url.PathEscape(item.ApprovalRef))
	if err := c.doJSON(ctx, http.MethodPost, path, rejectRequest{Reason: reason}, nil); err != nil {
		return fmt.Errorf("failed to reject approval %s: %w", item.ApprovalRef, err)
	}
	return nil
}

// LegacyPost writes a ledger entry directly, bypassing the approval
// pipeline. Used as a fallback when posting through an approval fails.
func (c *Client) LegacyPost(ctx context.Context, item *model.QueueItem) (string, error) {
	var resp postResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/ledger/entries", submitPayload(item), &resp); err != nil {
		return "", fmt.Errorf("failed to post ledger entry: %w", err)
	}
	return resp.LedgerRef, nil
}

// GetPipelineSnapshot fetches the backend's authoritative view of all
// in-flight items for an org.
func (c *Client) GetPipelineSnapshot(ctx context.Context, orgID string) ([]service.SnapshotItem, error) {
	path := "/api/v1/pipeline"
	if orgID != "" {
		path += "?org=" + url.QueryEscape(orgID)
	}

	var resp snapshotResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch pipeline snapshot: %w", err)
	}

	items := make([]service.SnapshotItem, 0, len(resp.Items))
	for _, row := range resp.Items {
		items = append(items, service.SnapshotItem{
			ID:            row.ID,
			Status:        row.Status,
			Vendor:        row.Vendor,
			Amount:        row.Amount,
			Currency:      row.Currency,
			InvoiceNumber: row.InvoiceNumber,
			UpdatedAt:     time.Unix(row.UpdatedAt, 0).UTC(),
		})
	}
	return items, nil
}

// doJSON performs one JSON request/response exchange.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend API error: %d - %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func submitPayload(item *model.QueueItem) submitRequest {
	req := submitRequest{
		MessageID:     item.Message.ID,
		ThreadID:      item.Message.ThreadID,
		DocType:       string(item.Classification.Type),
		Vendor:        item.Fields.Vendor,
		Amount:        item.Fields.Amount,
		Currency:      item.Fields.Currency,
		InvoiceNumber: item.Fields.InvoiceNumber,
		PaymentTerms:  item.Fields.PaymentTerms,
		Confidence:    item.EffectiveConfidence(),
		Duplicate:     item.Duplicate.IsDuplicate,
	}
	if item.Fields.DueDate != nil {
		req.DueDate = item.Fields.DueDate.ISO
	}
	return req
}
