// Package anchor talks to the ledger gateway that records batch
// registrations and ownership transfers.
package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

type HTTPAnchor struct {
	endpoint string
	client   *http.Client
}

var _ port.Anchor = (*HTTPAnchor)(nil)

// NewHTTPAnchor posts to endpoint. Timeouts come from the caller's context.
func NewHTTPAnchor(endpoint string, client *http.Client) *HTTPAnchor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAnchor{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

type registerBatchRequest struct {
	BatchID    string          `json:"batch_id"`
	ProducerID string          `json:"producer_id"`
	Name       string          `json:"name"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
}

type transferRequest struct {
	BatchID  string `json:"batch_id"`
	NewOwner string `json:"new_owner"`
}

type anchorResponse struct {
	TxHash string `json:"tx_hash"`
}

func (a *HTTPAnchor) RegisterBatch(ctx context.Context, batch domain.Batch) (string, error) {
	return a.post(ctx, "/batches", registerBatchRequest{
		BatchID:    batch.ID,
		ProducerID: batch.ProducerID,
		Name:       batch.Name,
		Quantity:   batch.Quantity,
		Unit:       batch.Unit,
	})
}

func (a *HTTPAnchor) TransferOwnership(ctx context.Context, batchID, newOwnerWallet string) (string, error) {
	return a.post(ctx, "/transfers", transferRequest{BatchID: batchID, NewOwner: newOwnerWallet})
}

func (a *HTTPAnchor) post(ctx context.Context, path string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call anchor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("anchor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out anchorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("anchor response has no tx hash")
	}
	return out.TxHash, nil
}
