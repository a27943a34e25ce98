package finding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubRecorder captures verdict calls for assertions.
type stubRecorder struct {
	calls []verdictCall
	err   error
}

type verdictCall struct {
	findingID string
	positive  bool
	meta      VerdictMeta
}

func (r *stubRecorder) RecordVerdict(_ context.Context, f *Finding, positive bool, meta VerdictMeta) (VerdictReceipt, error) {
	r.calls = append(r.calls, verdictCall{findingID: f.ID, positive: positive, meta: meta})
	if r.err != nil {
		return VerdictReceipt{}, r.err
	}
	return VerdictReceipt{GroundTruthID: "gt-1", TrainingID: "tr-1"}, nil
}

func newTestLifecycle(t *testing.T) (*Lifecycle, *Store, *stubRecorder) {
	t.Helper()
	store := newTestFindingStore(t)
	recorder := &stubRecorder{}
	lc, err := NewLifecycle(store, recorder, zap.NewNop())
	require.NoError(t, err)
	return lc, store, recorder
}

func TestTransitionApproveRecordsVerdict(t *testing.T) {
	lc, store, recorder := newTestLifecycle(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	f.IsGroundTruth = true
	require.NoError(t, store.Put(ctx, f))

	got, err := lc.Transition(ctx, f.ID, StatusAdded, VerdictMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusAdded, got.Status)

	require.Len(t, recorder.calls, 1)
	assert.Equal(t, f.ID, recorder.calls[0].findingID)
	assert.True(t, recorder.calls[0].positive)
}

func TestTransitionApproveWithoutGroundTruthFlag(t *testing.T) {
	lc, store, recorder := newTestLifecycle(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	require.NoError(t, store.Put(ctx, f))

	_, err := lc.Transition(ctx, f.ID, StatusAdded, VerdictMeta{})
	require.NoError(t, err)
	assert.Empty(t, recorder.calls)
}

func TestTransitionDismissRecordsNegativeVerdict(t *testing.T) {
	lc, store, recorder := newTestLifecycle(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	require.NoError(t, store.Put(ctx, f))

	meta := VerdictMeta{ErrorType: ErrorWrongPage, Explanation: "cites 2a, text is on 2b"}
	got, err := lc.Transition(ctx, f.ID, StatusDismissed, meta)
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, got.Status)
	assert.Equal(t, ErrorWrongPage, got.ErrorType)
	assert.Equal(t, "cites 2a, text is on 2b", got.Explanation)

	require.Len(t, recorder.calls, 1)
	assert.False(t, recorder.calls[0].positive)
	assert.Equal(t, ErrorWrongPage, recorder.calls[0].meta.ErrorType)
}

func TestTransitionDismissUndoRoundTrip(t *testing.T) {
	lc, store, _ := newTestLifecycle(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	f.Justification = "heuristic match"
	f.Alternatives = []Alternative{{Source: "Shabbat 31a", Score: 0.6}}
	require.NoError(t, store.Put(ctx, f))

	before, err := store.Get(ctx, f.ID)
	require.NoError(t, err)

	_, err = lc.Transition(ctx, f.ID, StatusDismissed, VerdictMeta{ErrorType: ErrorNotRelevant})
	require.NoError(t, err)

	restored, err := lc.Transition(ctx, f.ID, StatusPending, VerdictMeta{})
	require.NoError(t, err)

	// Content matches the pre-dismissal finding exactly.
	assert.Equal(t, before.Source, restored.Source)
	assert.Equal(t, before.Snippet, restored.Snippet)
	assert.Equal(t, before.Justification, restored.Justification)
	assert.Equal(t, before.Confidence, restored.Confidence)
	assert.Equal(t, before.Alternatives, restored.Alternatives)
	assert.Equal(t, before.Status, restored.Status)
	assert.Empty(t, restored.ErrorType)
	assert.Empty(t, restored.Explanation)
}

func TestTransitionIllegal(t *testing.T) {
	lc, store, _ := newTestLifecycle(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	require.NoError(t, store.Put(ctx, f))

	// Pending findings cannot be "undone".
	_, err := lc.Transition(ctx, f.ID, StatusPending, VerdictMeta{})
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Added is terminal.
	_, err = lc.Transition(ctx, f.ID, StatusAdded, VerdictMeta{})
	require.NoError(t, err)
	_, err = lc.Transition(ctx, f.ID, StatusDismissed, VerdictMeta{})
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Unknown findings keep their not-found identity for callers that
	// distinguish missing from stale.
	_, err = lc.Transition(ctx, "missing", StatusAdded, VerdictMeta{})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, err, ErrFindingNotFound)
}

func TestTransitionSurvivesRecorderFailure(t *testing.T) {
	lc, store, recorder := newTestLifecycle(t)
	recorder.err = errors.New("vector store unreachable")
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	f.IsGroundTruth = true
	require.NoError(t, store.Put(ctx, f))

	got, err := lc.Transition(ctx, f.ID, StatusAdded, VerdictMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusAdded, got.Status)

	// The local transition stays authoritative.
	stored, err := store.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAdded, stored.Status)
}

func TestSwapCandidate(t *testing.T) {
	lc, store, recorder := newTestLifecycle(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	f.Justification = "original reasoning"
	f.Alternatives = []Alternative{
		{Source: "Shabbat 31a", Reasoning: "parallel formulation", Score: 0.8},
		{Source: "Eruvin 13b", Score: 0.5},
	}
	require.NoError(t, store.Put(ctx, f))

	got, err := lc.SwapCandidate(ctx, f.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Shabbat 31a", got.Source)
	assert.Equal(t, "parallel formulation", got.Justification)
	require.Len(t, got.Alternatives, 1)
	assert.Equal(t, "Eruvin 13b", got.Alternatives[0].Source)

	// Swapping is a content edit: no verdict is recorded.
	assert.Empty(t, recorder.calls)

	// A reasoning-less alternative still replaces the justification; the
	// old one described the replaced source.
	got, err = lc.SwapCandidate(ctx, f.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Eruvin 13b", got.Source)
	assert.Empty(t, got.Justification)
	assert.Empty(t, got.Alternatives)

	_, err = lc.SwapCandidate(ctx, f.ID, 5)
	require.ErrorIs(t, err, ErrNoAlternative)
}

func TestLifecycleDelete(t *testing.T) {
	lc, store, _ := newTestLifecycle(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	require.NoError(t, store.Put(ctx, f))

	_, err := lc.Transition(ctx, f.ID, StatusDismissed, VerdictMeta{})
	require.NoError(t, err)

	// Deletion is permitted from any state.
	require.NoError(t, lc.Delete(ctx, f.ID))
	_, err = store.Get(ctx, f.ID)
	require.ErrorIs(t, err, ErrFindingNotFound)
}
