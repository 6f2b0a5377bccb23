package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tabChange() model.CheatingEventRequest {
	return model.CheatingEventRequest{Type: model.ViolationTabChange, Detail: "visibilitychange"}
}

func TestRecordViolationBelowThreshold(t *testing.T) {
	h := newHarness(t)
	res := h.start(t)

	got, err := h.integrity.RecordViolation(context.Background(), 1, res.Attempt.ID, tabChange())
	require.NoError(t, err)

	assert.Equal(t, 1, got.Count)
	assert.Equal(t, 3, got.Threshold)
	assert.False(t, got.AutoSubmitted)
	assert.Equal(t, model.AttemptInProgress, got.Status)
	assert.Equal(t, "Anda terdeteksi berpindah tab. Sisa peringatan: 2.", got.Warning)
}

func TestRecordViolationAutoSubmitsAtThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.start(t)

	for i := 0; i < 2; i++ {
		_, err := h.integrity.RecordViolation(ctx, 1, res.Attempt.ID, tabChange())
		require.NoError(t, err)
	}

	got, err := h.integrity.RecordViolation(ctx, 1, res.Attempt.ID, tabChange())
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)
	assert.True(t, got.AutoSubmitted)
	assert.Equal(t, model.AttemptAutoSubmittedIntegrity, got.Status)

	a := h.store.only(t)
	assert.Equal(t, model.AttemptAutoSubmittedIntegrity, a.Status)
	assert.Equal(t, model.TerminationIntegrity, a.TerminationReason)
	require.NotNil(t, a.FinalScore)
	assert.Empty(t, h.leaseToken(t, 1))
}

func TestRecordViolationConcurrentTransitionsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.integrity.RecordViolation(ctx, 1, res.Attempt.ID, tabChange())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.store.transitions)
	assert.Equal(t, model.AttemptAutoSubmittedIntegrity, h.store.only(t).Status)

	// A fourth event is kept for audit and changes nothing.
	got, err := h.integrity.RecordViolation(ctx, 1, res.Attempt.ID, tabChange())
	require.NoError(t, err)
	assert.Equal(t, 4, got.Count)
	assert.False(t, got.AutoSubmitted)
	assert.Equal(t, model.AttemptAutoSubmittedIntegrity, got.Status)

	a := h.store.only(t)
	assert.Len(t, a.Violations, 4)
	assert.Equal(t, 1, h.store.transitions)
}

func TestRecordViolationFallsBackToPersistedCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.start(t)

	for i := 0; i < 2; i++ {
		_, err := h.integrity.RecordViolation(ctx, 1, res.Attempt.ID, tabChange())
		require.NoError(t, err)
	}

	// Counter lost: the persisted log still reaches the threshold.
	h.mr.FlushAll()
	got, err := h.integrity.RecordViolation(ctx, 1, res.Attempt.ID, tabChange())
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)
	assert.True(t, got.AutoSubmitted)
}

func TestRecordViolationOnSubmittedAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.start(t)

	_, err := h.attempts.Submit(ctx, 1, res.Attempt.ID)
	require.NoError(t, err)

	got, err := h.integrity.RecordViolation(ctx, 1, res.Attempt.ID, model.CheatingEventRequest{Type: model.ViolationCopyPaste})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
	assert.False(t, got.AutoSubmitted)
	assert.Equal(t, model.AttemptSubmitted, got.Status)
	assert.Equal(t, model.TerminationManual, h.store.only(t).TerminationReason)
}

func TestRecordViolationOwnership(t *testing.T) {
	h := newHarness(t)
	res := h.start(t)

	_, err := h.integrity.RecordViolation(context.Background(), 2, res.Attempt.ID, tabChange())
	assert.ErrorIs(t, err, ErrNotAttemptOwner)
}

func TestWarning(t *testing.T) {
	assert.Equal(t, "Anda keluar dari mode layar penuh. Sisa peringatan: 1.", Warning(model.ViolationFullscreenExit, 2, 3))
	assert.Equal(t, "Terdeteksi lebih dari satu wajah. Ujian Anda dikumpulkan otomatis.", Warning(model.ViolationMultipleFaces, 3, 3))
	assert.Equal(t, "Aktivitas mencurigakan terdeteksi. Sisa peringatan: 2.", Warning("unknown", 1, 3))
}
