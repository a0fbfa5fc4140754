package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// deterministic test keys; never use outside tests.
const (
	ownerSK       = "1111111111111111111111111111111111111111111111111111111111111111"
	participantSK = "2222222222222222222222222222222222222222222222222222222222222222"
)

func testCreatePayload() *CreatePayload {
	return &CreatePayload{
		WorkflowID:   "wf-1",
		WorkflowType: "bounty",
		OwnerKey:     mustPubKey(ownerSK),
		Title:        "Fix the flaky relay reconnect",
		Units:        []UnitSpec{{ID: "u1", Amount: 5000}},
	}
}

func mustPubKey(sk string) string {
	priv, err := ParsePrivateKey(sk)
	if err != nil {
		panic(err)
	}
	return PubKeyHex(priv)
}

func TestSignAndVerify(t *testing.T) {
	priv, err := ParsePrivateKey(ownerSK)
	require.NoError(t, err)

	env, err := NewEnvelope(testCreatePayload(), "bounty", priv, time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.Equal(t, PubKeyHex(priv), env.PubKey)
	require.NoError(t, env.VerifySignature())

	// id must commit to the content
	tampered := *env
	tampered.Content = `{"workflowId":"wf-2"}`
	err = tampered.VerifySignature()
	require.ErrorContains(t, err, "id mismatch")

	// a recomputed id without a matching signature must also fail
	tampered.ID, err = tampered.ComputeID()
	require.NoError(t, err)
	require.Error(t, tampered.VerifySignature())
}

func TestNewEnvelopeRejectsInvalidPayload(t *testing.T) {
	priv, err := ParsePrivateKey(ownerSK)
	require.NoError(t, err)

	p := testCreatePayload()
	p.Units = nil
	_, err = NewEnvelope(p, "bounty", priv, time.Unix(1700000000, 0))
	require.True(t, xerrors.Is(err, ErrMalformed))

	_, err = NewEnvelope(testCreatePayload(), "raffle", priv, time.Unix(1700000000, 0))
	require.ErrorContains(t, err, "no kind")
}

func TestValidate(t *testing.T) {
	priv, err := ParsePrivateKey(ownerSK)
	require.NoError(t, err)

	env, err := NewEnvelope(testCreatePayload(), "bounty", priv, time.Unix(1700000000, 0))
	require.NoError(t, err)

	p, err := Validate(env)
	require.NoError(t, err)
	cp, ok := p.(*CreatePayload)
	require.True(t, ok)
	require.Equal(t, "wf-1", cp.WorkflowID)
	require.Len(t, cp.Units, 1)

	t.Run("missing fields", func(t *testing.T) {
		for _, mutate := range []func(*Envelope){
			func(e *Envelope) { e.ID = "" },
			func(e *Envelope) { e.PubKey = "" },
			func(e *Envelope) { e.CreatedAt = 0 },
			func(e *Envelope) { e.CreatedAt = -5 },
			func(e *Envelope) { e.Content = "" },
		} {
			bad := *env
			mutate(&bad)
			_, err := Validate(&bad)
			require.True(t, xerrors.Is(err, ErrMalformed), "got: %v", err)
		}
	})

	t.Run("non-object content", func(t *testing.T) {
		bad := *env
		bad.Content = `"just a string"`
		_, err := Validate(&bad)
		require.True(t, xerrors.Is(err, ErrMalformed))

		bad.Content = `[1,2,3]`
		_, err = Validate(&bad)
		require.True(t, xerrors.Is(err, ErrMalformed))
	})

	t.Run("unknown kind", func(t *testing.T) {
		bad := *env
		bad.Kind = 1
		_, err := Validate(&bad)
		require.True(t, xerrors.Is(err, ErrMalformed))
	})
}

func TestDecodePayloadShapes(t *testing.T) {
	cases := []struct {
		op      Op
		content string
		wantErr bool
	}{
		{OpApply, `{"workflowId":"wf-1","participantId":"p1","participantKey":"abc"}`, false},
		{OpApply, `{"workflowId":"wf-1"}`, true},
		{OpSelect, `{"workflowId":"wf-1","ownerKey":"abc","participantIds":["p1"]}`, false},
		{OpSelect, `{"workflowId":"wf-1","ownerKey":"abc","participantIds":[]}`, true},
		{OpFunded, `{"workflowId":"wf-1","unitId":"u1","amountSats":5000}`, false},
		{OpFunded, `{"workflowId":"wf-1"}`, true},
		{OpSubmit, `{"workflowId":"wf-1","unitId":"u1","participantKey":"abc","content":"done"}`, false},
		{OpApprove, `{"workflowId":"wf-1","unitId":"u1","ownerKey":"abc"}`, false},
		{OpReject, `{"workflowId":"wf-1","unitId":"u1","ownerKey":"abc","reason":"incomplete"}`, false},
		{OpReject, `{"workflowId":"wf-1","unitId":"u1","ownerKey":"abc"}`, true},
		{OpComplete, `{"workflowId":"wf-1","proofs":[]}`, false},
		{OpCancel, `{"workflowId":"wf-1","ownerKey":"abc"}`, false},
	}

	for _, tc := range cases {
		kind, ok := MakeKind("gig", tc.op)
		require.True(t, ok)
		env := &Envelope{ID: "x", Kind: kind, Content: tc.content}
		p, err := DecodePayload(env)
		if tc.wantErr {
			require.True(t, xerrors.Is(err, ErrMalformed), "op %s content %s", tc.op, tc.content)
			continue
		}
		require.NoError(t, err, "op %s", tc.op)
		require.Equal(t, tc.op, p.Op())
		require.Equal(t, "wf-1", p.Workflow())
	}
}

func TestRejectReasonIsMandatory(t *testing.T) {
	var p RejectPayload
	require.NoError(t, json.Unmarshal([]byte(`{"workflowId":"w","unitId":"u","ownerKey":"k","reason":""}`), &p))
	require.True(t, xerrors.Is(p.validate(), ErrMalformed))
}
