package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-solarsight/internal/domain"
)

func TestCoordinatorLatestWins(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	firstCtx, first := c.Begin(ctx, "site-1", domain.ViewOverview)
	secondCtx, second := c.Begin(ctx, "site-1", domain.ViewOverview)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)

	require.Error(t, firstCtx.Err())
	assert.NoError(t, secondCtx.Err())

	assert.False(t, c.Commit(first))
	assert.True(t, c.Commit(second))

	c.Done(first)
	assert.Equal(t, 1, c.InFlight())
	assert.NoError(t, secondCtx.Err())

	c.Done(second)
	assert.Equal(t, 0, c.InFlight())
	assert.Error(t, secondCtx.Err())

	// A finished request still commits while nothing newer has begun.
	assert.True(t, c.Commit(second))
}

func TestCoordinatorIndependentPairs(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	overviewCtx, overview := c.Begin(ctx, "site-1", domain.ViewOverview)
	_, issues := c.Begin(ctx, "site-1", domain.ViewIssues)
	_, other := c.Begin(ctx, "site-2", domain.ViewOverview)

	assert.NoError(t, overviewCtx.Err())
	assert.True(t, c.Commit(overview))
	assert.True(t, c.Commit(issues))
	assert.True(t, c.Commit(other))
	assert.Equal(t, 3, c.InFlight())
}

func TestCoordinatorParentCancellation(t *testing.T) {
	c := NewCoordinator()
	parent, cancel := context.WithCancel(context.Background())

	reqCtx, tok := c.Begin(parent, "site-1", domain.ViewHistory)
	cancel()

	assert.Error(t, reqCtx.Err())
	assert.True(t, c.Commit(tok))
	c.Done(tok)
}

func TestCoordinatorForget(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	aCtx, a := c.Begin(ctx, "site-1", domain.ViewOverview)
	_, b := c.Begin(ctx, "site-10", domain.ViewOverview)

	c.Forget("site-1")

	assert.Error(t, aCtx.Err())
	assert.False(t, c.Commit(a))
	assert.True(t, c.Commit(b))
	assert.Equal(t, 1, c.InFlight())
}

func TestCoordinatorForget_SlashInSiteID(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	_, parent := c.Begin(ctx, "a", domain.ViewOverview)
	childCtx, child := c.Begin(ctx, "a/b", domain.ViewOverview)

	c.Forget("a")

	assert.False(t, c.Commit(parent))
	assert.NoError(t, childCtx.Err())
	assert.True(t, c.Commit(child))
	assert.Equal(t, 1, c.InFlight())
}
