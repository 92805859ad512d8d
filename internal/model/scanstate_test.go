package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanState_PushPendingEvictsOldest(t *testing.T) {
	state := &ScanState{PendingThreads: make(map[string]string)}

	for i := 0; i < MaxPendingIDs+10; i++ {
		id := fmt.Sprintf("msg-%d", i)
		state.PendingThreads[id] = "thread-" + id
		state.PushPending(id)
	}

	require.Len(t, state.PendingIDs, MaxPendingIDs)

	// The first 10 ids were evicted along with their thread mappings.
	assert.Equal(t, "msg-10", state.PendingIDs[0])
	assert.NotContains(t, state.PendingThreads, "msg-0")
	assert.NotContains(t, state.PendingThreads, "msg-9")
	assert.Contains(t, state.PendingThreads, "msg-10")
}

func TestScanState_RequeueFront(t *testing.T) {
	state := &ScanState{}
	state.PushPending("a", "b", "c")

	state.RequeueFront("failed")

	require.Len(t, state.PendingIDs, 4)
	assert.Equal(t, "failed", state.PendingIDs[0])
	assert.Equal(t, []string{"failed", "a", "b", "c"}, state.PendingIDs)
}

func TestScanState_HasPending(t *testing.T) {
	state := &ScanState{}
	assert.False(t, state.HasPending())

	state.PushPending("x")
	assert.True(t, state.HasPending())
}
