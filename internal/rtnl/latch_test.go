package rtnl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrLatch_FirstErrorWins(t *testing.T) {
	var latch errLatch

	first := errors.New("first failure")
	latch.capture("link_change", first)
	latch.capture("route_change", errors.New("second failure"))

	err := latch.drain()
	require.Error(t, err)
	var oerr *ObserverError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, "link_change", oerr.Op)
	assert.ErrorIs(t, err, first)
}

func TestErrLatch_DrainClears(t *testing.T) {
	var latch errLatch

	assert.NoError(t, latch.drain(), "empty latch drains to nil")

	latch.capture("addr_change", errors.New("boom"))
	assert.True(t, latch.occupied())

	require.Error(t, latch.drain())
	assert.False(t, latch.occupied())
	assert.NoError(t, latch.drain(), "a drained failure does not surface twice")
}
