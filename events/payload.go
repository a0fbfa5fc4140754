package events

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// ErrMalformed tags structural failures: missing fields, wrong types,
// undecodable content. Malformed events are dropped, never fatal.
var ErrMalformed = xerrors.New("malformed event")

// Payload is the decoded content of an envelope. Exactly one concrete
// type exists per operation; the router switches over them
// exhaustively.
type Payload interface {
	Op() Op
	Workflow() string
	validate() error
}

// UnitSpec declares one payable slice of a workflow at creation time.
type UnitSpec struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	MaxAmount   int64  `json:"maxAmount,omitempty"`
	Description string `json:"description,omitempty"`
}

// CreatePayload announces a new workflow. Signed by the sponsor.
type CreatePayload struct {
	WorkflowID       string     `json:"workflowId"`
	WorkflowType     string     `json:"workflowType"`
	OwnerKey         string     `json:"ownerKey"`
	Title            string     `json:"title"`
	ShortDescription string     `json:"shortDescription,omitempty"`
	Description      string     `json:"description,omitempty"`
	FundingPlan      string     `json:"fundingPlan,omitempty"`
	Units            []UnitSpec `json:"units"`
}

func (p *CreatePayload) Op() Op           { return OpCreate }
func (p *CreatePayload) Workflow() string { return p.WorkflowID }

func (p *CreatePayload) validate() error {
	if p.WorkflowID == "" || p.OwnerKey == "" || p.Title == "" {
		return xerrors.Errorf("create payload missing workflowId, ownerKey or title: %w", ErrMalformed)
	}
	if len(p.Units) == 0 {
		return xerrors.Errorf("create payload declares no funding units: %w", ErrMalformed)
	}
	for _, u := range p.Units {
		if u.ID == "" || u.Amount <= 0 {
			return xerrors.Errorf("create payload has invalid unit spec: %w", ErrMalformed)
		}
	}
	return nil
}

// ApplyPayload is a worker's submission (bounty) or application
// (gig/grant). Signed by the participant.
type ApplyPayload struct {
	WorkflowID     string `json:"workflowId"`
	ParticipantID  string `json:"participantId"`
	ParticipantKey string `json:"participantKey"`
	Proposal       string `json:"proposal"`
	PayoutAddress  string `json:"payoutAddress,omitempty"`
}

func (p *ApplyPayload) Op() Op           { return OpApply }
func (p *ApplyPayload) Workflow() string { return p.WorkflowID }

func (p *ApplyPayload) validate() error {
	if p.WorkflowID == "" || p.ParticipantID == "" || p.ParticipantKey == "" {
		return xerrors.Errorf("apply payload missing workflowId, participantId or participantKey: %w", ErrMalformed)
	}
	return nil
}

// SelectPayload records the sponsor choosing one or more participants.
type SelectPayload struct {
	WorkflowID     string   `json:"workflowId"`
	OwnerKey       string   `json:"ownerKey"`
	ParticipantIDs []string `json:"participantIds"`
}

func (p *SelectPayload) Op() Op           { return OpSelect }
func (p *SelectPayload) Workflow() string { return p.WorkflowID }

func (p *SelectPayload) validate() error {
	if p.WorkflowID == "" || p.OwnerKey == "" || len(p.ParticipantIDs) == 0 {
		return xerrors.Errorf("select payload missing workflowId, ownerKey or participantIds: %w", ErrMalformed)
	}
	return nil
}

// FundedPayload confirms escrow for one funding unit. Only the system
// signer may emit it; it carries the payment correlation key.
type FundedPayload struct {
	WorkflowID  string `json:"workflowId"`
	UnitID      string `json:"unitId"`
	EscrowTxID  string `json:"escrowTxId,omitempty"`
	PaymentHash string `json:"paymentHash,omitempty"`
	AmountSats  int64  `json:"amountSats,omitempty"`
}

func (p *FundedPayload) Op() Op           { return OpFunded }
func (p *FundedPayload) Workflow() string { return p.WorkflowID }

func (p *FundedPayload) validate() error {
	if p.WorkflowID == "" || p.UnitID == "" {
		return xerrors.Errorf("funded payload missing workflowId or unitId: %w", ErrMalformed)
	}
	return nil
}

// SubmitPayload delivers work for a funded unit. Signed by the
// participant named in the payload.
type SubmitPayload struct {
	WorkflowID     string   `json:"workflowId"`
	UnitID         string   `json:"unitId"`
	ParticipantKey string   `json:"participantKey"`
	Content        string   `json:"content"`
	Links          []string `json:"links,omitempty"`
	PayoutAddress  string   `json:"payoutAddress,omitempty"`
}

func (p *SubmitPayload) Op() Op           { return OpSubmit }
func (p *SubmitPayload) Workflow() string { return p.WorkflowID }

func (p *SubmitPayload) validate() error {
	if p.WorkflowID == "" || p.UnitID == "" || p.ParticipantKey == "" {
		return xerrors.Errorf("submit payload missing workflowId, unitId or participantKey: %w", ErrMalformed)
	}
	return nil
}

// ApprovePayload accepts submitted work for a unit. Signed by the owner.
type ApprovePayload struct {
	WorkflowID string `json:"workflowId"`
	UnitID     string `json:"unitId"`
	OwnerKey   string `json:"ownerKey"`
}

func (p *ApprovePayload) Op() Op           { return OpApprove }
func (p *ApprovePayload) Workflow() string { return p.WorkflowID }

func (p *ApprovePayload) validate() error {
	if p.WorkflowID == "" || p.UnitID == "" || p.OwnerKey == "" {
		return xerrors.Errorf("approve payload missing workflowId, unitId or ownerKey: %w", ErrMalformed)
	}
	return nil
}

// RejectPayload declines submitted work. The reason is mandatory.
type RejectPayload struct {
	WorkflowID string `json:"workflowId"`
	UnitID     string `json:"unitId"`
	OwnerKey   string `json:"ownerKey"`
	Reason     string `json:"reason"`
}

func (p *RejectPayload) Op() Op           { return OpReject }
func (p *RejectPayload) Workflow() string { return p.WorkflowID }

func (p *RejectPayload) validate() error {
	if p.WorkflowID == "" || p.UnitID == "" || p.OwnerKey == "" {
		return xerrors.Errorf("reject payload missing workflowId, unitId or ownerKey: %w", ErrMalformed)
	}
	if p.Reason == "" {
		return xerrors.Errorf("reject payload missing reason: %w", ErrMalformed)
	}
	return nil
}

// PayoutProof attests that one payee was paid.
type PayoutProof struct {
	Payee      string `json:"payee"`
	AmountSats int64  `json:"amountSats"`
	Rank       int    `json:"rank"`
	Preimage   string `json:"preimage,omitempty"`
	PaidAt     int64  `json:"paidAt,omitempty"`
}

// CompletePayload closes a workflow, carrying proof of which payees
// were paid. Only the system signer may emit it.
type CompletePayload struct {
	WorkflowID string        `json:"workflowId"`
	Proofs     []PayoutProof `json:"proofs"`
}

func (p *CompletePayload) Op() Op           { return OpComplete }
func (p *CompletePayload) Workflow() string { return p.WorkflowID }

func (p *CompletePayload) validate() error {
	if p.WorkflowID == "" {
		return xerrors.Errorf("complete payload missing workflowId: %w", ErrMalformed)
	}
	return nil
}

// CancelPayload withdraws an open workflow. Signed by the owner.
type CancelPayload struct {
	WorkflowID string `json:"workflowId"`
	OwnerKey   string `json:"ownerKey"`
	Reason     string `json:"reason,omitempty"`
}

func (p *CancelPayload) Op() Op           { return OpCancel }
func (p *CancelPayload) Workflow() string { return p.WorkflowID }

func (p *CancelPayload) validate() error {
	if p.WorkflowID == "" || p.OwnerKey == "" {
		return xerrors.Errorf("cancel payload missing workflowId or ownerKey: %w", ErrMalformed)
	}
	return nil
}

// DecodePayload parses an envelope's content into the concrete payload
// type for its kind's operation and checks the structural shape. It is
// a pure predicate over the envelope; it never touches entity state.
func DecodePayload(e *Envelope) (Payload, error) {
	op, ok := e.Kind.Op()
	if !ok {
		return nil, xerrors.Errorf("unknown event kind %d: %w", int(e.Kind), ErrMalformed)
	}

	var p Payload
	switch op {
	case OpCreate:
		p = &CreatePayload{}
	case OpApply:
		p = &ApplyPayload{}
	case OpSelect:
		p = &SelectPayload{}
	case OpFunded:
		p = &FundedPayload{}
	case OpSubmit:
		p = &SubmitPayload{}
	case OpApprove:
		p = &ApprovePayload{}
	case OpReject:
		p = &RejectPayload{}
	case OpComplete:
		p = &CompletePayload{}
	case OpCancel:
		p = &CancelPayload{}
	}

	// Content must be a JSON object; a bare string or array is a
	// structural violation even if it would unmarshal cleanly.
	var shape map[string]json.RawMessage
	if err := json.Unmarshal([]byte(e.Content), &shape); err != nil {
		return nil, xerrors.Errorf("event %s content is not a JSON object: %w", e.ID, ErrMalformed)
	}
	if err := json.Unmarshal([]byte(e.Content), p); err != nil {
		return nil, xerrors.Errorf("decoding event %s content: %s: %w", e.ID, err, ErrMalformed)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}
