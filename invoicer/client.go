package invoicer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("invoicer")

// Client talks to the external payment provider. It is deliberately
// thin: invoice creation and payment sends, nothing else. The
// provider confirms inbound payments asynchronously via webhook.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// InvoiceRequest asks the provider for a payment request.
type InvoiceRequest struct {
	AmountSats  int64  `json:"amountSats"`
	Description string `json:"description"`
	PayerEmail  string `json:"payerEmail,omitempty"`
}

// Invoice is the provider's answer: a payment request string and the
// hash that later correlates the webhook confirmation to this invoice.
type Invoice struct {
	PaymentRequest string `json:"paymentRequest"`
	PaymentHash    string `json:"paymentHash"`
	ExpiresAt      int64  `json:"expiresAt"`
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return xerrors.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return xerrors.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Errorf("calling payment provider: %w", err)
	}
	defer resp.Body.Close() // nolint: errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return xerrors.Errorf("payment provider returned %d: %s", resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Errorf("decoding provider response: %w", err)
	}
	return nil
}

// CreateInvoice requests an invoice for escrowing a funding unit.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	var inv Invoice
	if err := c.post(ctx, "/invoices", req, &inv); err != nil {
		return nil, err
	}
	if inv.PaymentHash == "" {
		return nil, xerrors.Errorf("provider returned invoice without payment hash")
	}
	return &inv, nil
}

type paymentRequest struct {
	Address    string `json:"address"`
	AmountSats int64  `json:"amountSats"`
}

type paymentResponse struct {
	Status   string `json:"status"`
	Preimage string `json:"preimage"`
}

// Pay sends amountSats to a payee address and returns the payment
// preimage as proof. It implements payout.Payer; the coordinator
// calls it concurrently, one goroutine per payee.
func (c *Client) Pay(ctx context.Context, payeeAddress string, amountSats int64) (string, error) {
	var resp paymentResponse
	if err := c.post(ctx, "/payments", paymentRequest{Address: payeeAddress, AmountSats: amountSats}, &resp); err != nil {
		return "", err
	}
	if resp.Status != "complete" {
		return "", xerrors.Errorf("payment to %s ended with status %q", payeeAddress, resp.Status)
	}
	if resp.Preimage == "" {
		return "", xerrors.Errorf("payment to %s completed without preimage", payeeAddress)
	}
	return resp.Preimage, nil
}
