package probe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_StartCancelsPrevious(t *testing.T) {
	s := NewScheduler()

	first, _ := s.Start(context.Background(), "conv-1")
	second, _ := s.Start(context.Background(), "conv-1")

	require.Error(t, first.Err())
	assert.ErrorIs(t, context.Cause(first), ErrSuperseded)
	assert.NoError(t, second.Err())
	assert.True(t, s.Running("conv-1"))
	assert.Equal(t, 1, s.Len())
}

func TestScheduler_IndependentIDs(t *testing.T) {
	s := NewScheduler()

	a, _ := s.Start(context.Background(), "a")
	b, _ := s.Start(context.Background(), "b")

	assert.NoError(t, a.Err())
	assert.NoError(t, b.Err())
	assert.Equal(t, 2, s.Len())
}

func TestScheduler_StaleFinishKeepsSuccessor(t *testing.T) {
	s := NewScheduler()

	_, oldTok := s.Start(context.Background(), "conv-1")
	newCtx, newTok := s.Start(context.Background(), "conv-1")

	assert.False(t, s.Finish(oldTok), "superseded token reports it lost the slot")
	assert.True(t, s.Running("conv-1"))
	assert.NoError(t, newCtx.Err())

	assert.True(t, s.Finish(newTok))
	assert.False(t, s.Running("conv-1"))
	assert.ErrorIs(t, context.Cause(newCtx), ErrFinished)
	assert.Equal(t, "conv-1", newTok.ID())
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()

	assert.False(t, s.Cancel("conv-1"))

	ctx, tok := s.Start(context.Background(), "conv-1")
	assert.True(t, s.Cancel("conv-1"))
	assert.ErrorIs(t, context.Cause(ctx), ErrCanceled)
	assert.False(t, s.Running("conv-1"))
	assert.False(t, s.Cancel("conv-1"))

	assert.True(t, s.Finish(tok)) // canceled, not superseded
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_ParentCancellation(t *testing.T) {
	s := NewScheduler()
	parent, cancel := context.WithCancel(context.Background())

	ctx, tok := s.Start(parent, "conv-1")
	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// The slot stays until its owner finishes.
	assert.True(t, s.Running("conv-1"))
	assert.True(t, s.Finish(tok))
	assert.False(t, s.Running("conv-1"))
}

func TestScheduler_SupersededFinishAfterSuccessor(t *testing.T) {
	s := NewScheduler()

	_, oldTok := s.Start(context.Background(), "conv-1")
	_, newTok := s.Start(context.Background(), "conv-1")

	assert.True(t, s.Finish(newTok))
	assert.False(t, s.Finish(oldTok))
	assert.Equal(t, 0, s.Len())
}
