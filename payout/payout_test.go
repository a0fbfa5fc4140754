package payout

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// fakePayer fails the addresses in its deny set and records every call.
type fakePayer struct {
	lk    sync.Mutex
	deny  map[string]bool
	calls []string
}

func (f *fakePayer) Pay(ctx context.Context, payeeAddress string, amountSats int64) (string, error) {
	f.lk.Lock()
	f.calls = append(f.calls, payeeAddress)
	f.lk.Unlock()
	if f.deny[payeeAddress] {
		return "", xerrors.New("no route to destination")
	}
	return "preimage-" + payeeAddress, nil
}

func TestPayAllSucceeds(t *testing.T) {
	payer := &fakePayer{}
	c := NewCoordinator(payer, "bounty")

	res := c.PayAll(context.Background(), "b-1", []Claim{
		{PayeeAddress: "alice@ln.example", AmountSats: 5000, Rank: 1},
		{PayeeAddress: "bob@ln.example", AmountSats: 3000, Rank: 2},
	})

	require.True(t, res.Success())
	require.NoError(t, res.Err())
	require.Len(t, res.Proofs, 2)
	require.Len(t, payer.calls, 2)

	// proofs come back in rank order regardless of completion order
	require.Equal(t, 1, res.Proofs[0].Rank)
	require.Equal(t, "alice@ln.example", res.Proofs[0].Payee)
	require.Equal(t, int64(5000), res.Proofs[0].AmountSats)
	require.Equal(t, "preimage-alice@ln.example", res.Proofs[0].Preimage)
	require.Equal(t, 2, res.Proofs[1].Rank)
}

func TestPayAllPartialFailure(t *testing.T) {
	// rank 1 unreachable, rank 2 fine: the batch still succeeds and
	// the error list names exactly the failed payee
	payer := &fakePayer{deny: map[string]bool{"alice@ln.example": true}}
	c := NewCoordinator(payer, "bounty")

	res := c.PayAll(context.Background(), "b-2", []Claim{
		{PayeeAddress: "alice@ln.example", AmountSats: 5000, Rank: 1},
		{PayeeAddress: "bob@ln.example", AmountSats: 3000, Rank: 2},
	})

	require.True(t, res.Success())
	require.Len(t, res.Proofs, 1)
	require.Equal(t, "bob@ln.example", res.Proofs[0].Payee)

	require.Len(t, res.Errors, 1)
	require.Equal(t, "alice@ln.example", res.Errors[0].PayeeAddress)
	require.Equal(t, 1, res.Errors[0].Rank)
	require.ErrorContains(t, res.Err(), "no route to destination")

	// one failure never stops the other payment from being attempted
	require.Len(t, payer.calls, 2)
}

func TestPayAllTotalFailure(t *testing.T) {
	payer := &fakePayer{deny: map[string]bool{
		"alice@ln.example": true,
		"bob@ln.example":   true,
	}}
	c := NewCoordinator(payer, "grant")

	res := c.PayAll(context.Background(), "g-1", []Claim{
		{PayeeAddress: "alice@ln.example", AmountSats: 100, Rank: 1},
		{PayeeAddress: "bob@ln.example", AmountSats: 200, Rank: 2},
	})

	require.False(t, res.Success())
	require.Empty(t, res.Proofs)
	require.Len(t, res.Errors, 2)
	require.Error(t, res.Err())
}

func TestPayAllNoClaims(t *testing.T) {
	c := NewCoordinator(&fakePayer{}, "gig")
	res := c.PayAll(context.Background(), "g-2", nil)
	require.False(t, res.Success())
	require.NoError(t, res.Err())
}
