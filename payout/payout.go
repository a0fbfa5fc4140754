package payout

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/satwork/satwork/build"
	"github.com/satwork/satwork/events"
	"github.com/satwork/satwork/metrics"
)

var log = logging.Logger("payout")

// Payer sends a single payment over the payment rail and returns a
// proof. Implementations must be safe for concurrent use; the
// coordinator fans out one call per payee.
type Payer interface {
	Pay(ctx context.Context, payeeAddress string, amountSats int64) (preimage string, err error)
}

// Claim is one payee's share of a workflow's reward.
type Claim struct {
	PayeeAddress string
	AmountSats   int64
	Rank         int
}

// PayeeError records why one payee's payment failed without touching
// the others.
type PayeeError struct {
	PayeeAddress string
	Rank         int
	Err          error
}

func (pe PayeeError) Error() string {
	return xerrors.Errorf("paying rank %d payee %s: %w", pe.Rank, pe.PayeeAddress, pe.Err).Error()
}

// Result aggregates a payout batch. The batch as a whole succeeds if
// at least one payment went through; the error list exactly matches
// the failed subset so callers can show partial failure per payee.
type Result struct {
	WorkflowID string
	Proofs     []events.PayoutProof
	Errors     []PayeeError
}

// Success reports whether at least one payee was paid.
func (r *Result) Success() bool { return len(r.Proofs) > 0 }

// Err returns the collected per-payee failures as one error, or nil.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, pe := range r.Errors {
		merr = multierror.Append(merr, pe)
	}
	return merr.ErrorOrNil()
}

// Coordinator fans out payment calls to a workflow's payees and folds
// the outcomes back together. Payments are independent: one failure
// never blocks or aborts the others.
type Coordinator struct {
	payer Payer

	wtype string
}

func NewCoordinator(payer Payer, workflowType string) *Coordinator {
	return &Coordinator{payer: payer, wtype: workflowType}
}

// PayAll executes every claim concurrently and returns the aggregate.
// The proofs come back ordered by rank regardless of completion order.
func (c *Coordinator) PayAll(ctx context.Context, workflowID string, claims []Claim) *Result {
	res := &Result{WorkflowID: workflowID}
	if len(claims) == 0 {
		return res
	}

	var (
		lk sync.Mutex
		wg sync.WaitGroup
	)
	wg.Add(len(claims))
	for _, cl := range claims {
		go func(cl Claim) {
			defer wg.Done()

			preimage, err := c.payer.Pay(ctx, cl.PayeeAddress, cl.AmountSats)

			lk.Lock()
			defer lk.Unlock()
			if err != nil {
				log.Warnf("payout for workflow %s rank %d payee %s failed: %s",
					workflowID, cl.Rank, cl.PayeeAddress, err)
				metrics.Record(ctx, metrics.PayoutsFailed,
					tag.Upsert(metrics.WorkflowType, c.wtype))
				res.Errors = append(res.Errors, PayeeError{
					PayeeAddress: cl.PayeeAddress,
					Rank:         cl.Rank,
					Err:          err,
				})
				return
			}
			metrics.Record(ctx, metrics.PayoutsSucceeded,
				tag.Upsert(metrics.WorkflowType, c.wtype))
			res.Proofs = append(res.Proofs, events.PayoutProof{
				Payee:      cl.PayeeAddress,
				AmountSats: cl.AmountSats,
				Rank:       cl.Rank,
				Preimage:   preimage,
				PaidAt:     build.Clock.Now().Unix(),
			})
		}(cl)
	}
	wg.Wait()

	sort.Slice(res.Proofs, func(i, j int) bool { return res.Proofs[i].Rank < res.Proofs[j].Rank })
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Rank < res.Errors[j].Rank })

	if !res.Success() {
		log.Errorf("all %d payouts for workflow %s failed", len(claims), workflowID)
	} else if len(res.Errors) > 0 {
		log.Warnf("workflow %s paid %d of %d payees", workflowID, len(res.Proofs), len(claims))
	}
	return res
}
