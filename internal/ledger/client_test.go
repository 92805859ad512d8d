package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

func testItem() *model.QueueItem {
	amount := 1250.00
	return &model.QueueItem{
		Message: model.CandidateMessage{ID: "msg-1", ThreadID: "thr-1"},
		Fields: model.ExtractedFields{
			Vendor:        "Initech LLC",
			Amount:        &amount,
			Currency:      "USD",
			InvoiceNumber: "INV-2201",
			DueDate:       &model.DueDate{ISO: "2025-06-30"},
		},
		Classification: model.ClassificationResult{Type: model.DocInvoice, Confidence: 0.97},
		Status:         model.StatusNew,
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "key")
	require.Error(t, err)

	c, err := NewClient("https://bills.example/", "key")
	require.NoError(t, err)
	assert.Equal(t, "https://bills.example", c.baseURL)
}

func TestClient_SubmitForApproval(t *testing.T) {
	var gotReq submitRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/invoices/submit", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(submitResponse{
			Status: "auto_approved", LedgerRef: "led-1", ApprovalRef: "apr-1",
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret")
	require.NoError(t, err)

	res, err := c.SubmitForApproval(context.Background(), testItem())
	require.NoError(t, err)
	assert.Equal(t, "auto_approved", res.Status)
	assert.Equal(t, "led-1", res.LedgerRef)
	assert.Equal(t, "apr-1", res.ApprovalRef)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "msg-1", gotReq.MessageID)
	assert.Equal(t, "INVOICE", gotReq.DocType)
	assert.Equal(t, "2025-06-30", gotReq.DueDate)
	require.NotNil(t, gotReq.Amount)
	assert.Equal(t, 1250.00, *gotReq.Amount)
	assert.Equal(t, 0.97, gotReq.Confidence)
}

func TestClient_SubmitForApproval_DuplicateSendsCappedConfidence(t *testing.T) {
	var gotReq submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(submitResponse{Status: "pending_approval"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	item := testItem()
	item.Duplicate = model.DuplicateMatch{IsDuplicate: true, Reason: model.DuplicateReasonQueued}
	_, err = c.SubmitForApproval(context.Background(), item)
	require.NoError(t, err)

	assert.True(t, gotReq.Duplicate)
	assert.Equal(t, model.DuplicateConfidenceCap, gotReq.Confidence)
}

func TestClient_SubmitForApproval_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(submitResponse{Status: "weird"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	_, err = c.SubmitForApproval(context.Background(), testItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unexpected submit status "weird"`)
}

func TestClient_ApproveAndPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/approvals/apr-1/post", r.URL.Path)
		_ = json.NewEncoder(w).Encode(postResponse{LedgerRef: "bill-42"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	item := testItem()
	item.ApprovalRef = "apr-1"
	ref, err := c.ApproveAndPost(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "bill-42", ref)

	// Without an approval ref there is nothing to post.
	item.ApprovalRef = ""
	_, err = c.ApproveAndPost(context.Background(), item)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no approval ref")
}

func TestClient_RejectInvoice(t *testing.T) {
	var gotReq rejectRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/approvals/apr-1/reject", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	item := testItem()
	item.ApprovalRef = "apr-1"
	require.NoError(t, c.RejectInvoice(context.Background(), item, "wrong vendor"))
	assert.Equal(t, "wrong vendor", gotReq.Reason)
}

func TestClient_GetPipelineSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/pipeline", r.URL.Path)
		require.Equal(t, "org-7", r.URL.Query().Get("org"))
		_ = json.NewEncoder(w).Encode(snapshotResponse{Items: []snapshotItem{
			{ID: "led-1", Status: "paid", Vendor: "Initech", Amount: 1250, Currency: "USD", UpdatedAt: 1750000000},
		}})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	items, err := c.GetPipelineSnapshot(context.Background(), "org-7")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "led-1", items[0].ID)
	assert.Equal(t, "paid", items[0].Status)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), items[0].UpdatedAt)
}

func TestClient_BackendErrorIncludesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broke"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	_, err = c.GetPipelineSnapshot(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream broke")
}
