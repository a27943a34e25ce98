package feedback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/finding"
	"github.com/sifralabs/mesora/internal/groundtruth"
)

func TestIndexerProcessesQueue(t *testing.T) {
	gt := newTestGroundTruth(t)

	indexer, err := NewIndexer(gt, 8, zap.NewNop())
	require.NoError(t, err)
	indexer.Start()

	example, err := groundtruth.NewExample("rivka", "queued phrase", "snippet", groundtruth.ActionApprove, "Berakhot 2a")
	require.NoError(t, err)
	require.NoError(t, indexer.Enqueue(example))

	// Stop drains the queue before returning.
	indexer.Stop()

	got, err := gt.Get(context.Background(), "rivka", example.ID)
	require.NoError(t, err)
	assert.Equal(t, "queued phrase", got.Phrase)
}

func TestIndexerEnqueueAfterStop(t *testing.T) {
	gt := newTestGroundTruth(t)

	indexer, err := NewIndexer(gt, 8, zap.NewNop())
	require.NoError(t, err)
	indexer.Start()
	indexer.Stop()

	example, err := groundtruth.NewExample("rivka", "late phrase", "snippet", groundtruth.ActionApprove, "Berakhot 2a")
	require.NoError(t, err)
	require.ErrorIs(t, indexer.Enqueue(example), ErrIndexerStopped)
}

func TestIndexerEnqueueBeforeStart(t *testing.T) {
	gt := newTestGroundTruth(t)

	indexer, err := NewIndexer(gt, 8, zap.NewNop())
	require.NoError(t, err)

	example, err := groundtruth.NewExample("rivka", "early phrase", "snippet", groundtruth.ActionApprove, "Berakhot 2a")
	require.NoError(t, err)
	require.ErrorIs(t, indexer.Enqueue(example), ErrIndexerStopped)
}

func TestRecorderWithIndexer(t *testing.T) {
	gt := newTestGroundTruth(t)

	findings, err := finding.NewStore(finding.StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { findings.Close() })

	training, err := NewTrainingStore(findings.DB())
	require.NoError(t, err)

	indexer, err := NewIndexer(gt, 8, zap.NewNop())
	require.NoError(t, err)
	indexer.Start()

	recorder, err := NewRecorder(gt, training, indexer, zap.NewNop())
	require.NoError(t, err)

	receipt, err := recorder.RecordVerdict(context.Background(), approvedFinding(t), true, finding.VerdictMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.GroundTruthID)
	assert.NotEmpty(t, receipt.TrainingID)

	// The corpus write happens on the worker; stopping drains it.
	indexer.Stop()

	got, err := gt.Get(context.Background(), "rivka", receipt.GroundTruthID)
	require.NoError(t, err)
	assert.Equal(t, groundtruth.ActionApprove, got.Action)
}
