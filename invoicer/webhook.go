package invoicer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"golang.org/x/xerrors"
)

// WebhookPayload is the provider's asynchronous payment notification.
type WebhookPayload struct {
	Event string `json:"event"` // "payment.completed" | "payment.failed"
	Data  struct {
		ID      string `json:"id"`
		Request string `json:"request"`
		Tokens  int64  `json:"tokens"`
		Status  string `json:"status"`
		PaidAt  string `json:"paid_at,omitempty"`
	} `json:"data"`
}

// Pending correlates an outstanding invoice's payment hash with the
// funding unit it escrows.
type Pending struct {
	WorkflowType string
	WorkflowID   string
	UnitID       string
	AmountSats   int64
}

// Confirmer turns a confirmed payment into the system-signed funding
// event for its unit. sysactor.Actor provides this per workflow type.
type Confirmer interface {
	ConfirmFunding(ctx context.Context, workflowID, unitID, escrowTxID, paymentHash string, amountSats int64) error
}

// Gateway consumes provider webhooks and translates completed
// payments into funding confirmations. It holds the pending-invoice
// table; entries are registered when invoices are created.
type Gateway struct {
	lk         sync.Mutex
	pending    map[string]Pending // payment hash → unit
	confirmers map[string]Confirmer
}

func NewGateway() *Gateway {
	return &Gateway{
		pending:    make(map[string]Pending),
		confirmers: make(map[string]Confirmer),
	}
}

// SetConfirmer installs the funding confirmer for one workflow type.
func (g *Gateway) SetConfirmer(workflowType string, c Confirmer) {
	g.lk.Lock()
	g.confirmers[workflowType] = c
	g.lk.Unlock()
}

// RegisterPending records an invoice so its webhook can be routed.
func (g *Gateway) RegisterPending(paymentHash string, p Pending) {
	g.lk.Lock()
	g.pending[paymentHash] = p
	g.lk.Unlock()
}

// Routes mounts the webhook endpoint on the given router.
func (g *Gateway) Routes(r *mux.Router) {
	r.HandleFunc("/webhooks/payments", g.handlePayment).Methods(http.MethodPost)
}

func (g *Gateway) handlePayment(w http.ResponseWriter, r *http.Request) {
	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "undecodable payload", http.StatusBadRequest)
		return
	}

	switch payload.Event {
	case "payment.completed":
		if err := g.confirm(r.Context(), payload); err != nil {
			log.Warnf("handling payment.completed for %s: %s", payload.Data.ID, err)
			// 200 regardless: the provider retries on non-2xx and a
			// payment we cannot correlate will not correlate better
			// the fifth time.
		}
	case "payment.failed":
		log.Warnf("payment %s failed at provider: %s", payload.Data.ID, payload.Data.Status)
	default:
		log.Debugf("ignoring webhook event %q", payload.Event)
	}
	w.WriteHeader(http.StatusOK)
}

// confirm resolves the payment hash to its funding unit and emits the
// funded event through the workflow type's confirmer.
func (g *Gateway) confirm(ctx context.Context, payload WebhookPayload) error {
	hash := payload.Data.ID
	g.lk.Lock()
	p, ok := g.pending[hash]
	var conf Confirmer
	if ok {
		conf = g.confirmers[p.WorkflowType]
		delete(g.pending, hash)
	}
	g.lk.Unlock()

	if !ok {
		return xerrors.Errorf("no pending invoice for payment hash %s", hash)
	}
	if conf == nil {
		return xerrors.Errorf("no confirmer installed for workflow type %q", p.WorkflowType)
	}

	amount := p.AmountSats
	if payload.Data.Tokens > 0 {
		amount = payload.Data.Tokens
	}
	return conf.ConfirmFunding(ctx, p.WorkflowID, p.UnitID, payload.Data.Request, hash, amount)
}
