package collector

import (
	"context"
	"testing"

	"consensus-observer/internal/store"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionCoversRoster(t *testing.T) {
	dir := loadedDirectory(t, threeValidators())
	ev := BlockEvent{
		Height:   100,
		Proposer: addr(1),
		Signatures: []CommitSig{
			{Validator: addr(1), Timestamp: "t1", Signature: "s1"},
			{Validator: ""},
			{Validator: addr(3), Timestamp: "t3", Signature: "s3"},
			{Validator: addr(9), Timestamp: "t9", Signature: "s9"},
		},
	}

	set := Partition(ev, dir.Validators())
	assert.Equal(t, 2, set.TotalSigned)
	assert.Equal(t, 1, set.TotalMissed)
	assert.Equal(t, dir.Len(), set.TotalSigned+set.TotalMissed)
	assert.Equal(t, addr(1), set.Proposer)

	require.Contains(t, set.Signed, addr(1))
	assert.Equal(t, "alpha", set.Signed[addr(1)].Moniker)
	assert.Equal(t, "s1", set.Signed[addr(1)].Signature.Signature)
	require.Contains(t, set.Missed, addr(2))
	assert.Nil(t, set.Missed[addr(2)].Signature)
	assert.NotContains(t, set.Signed, addr(9))
}

func TestTrackerWritesOncePerHeight(t *testing.T) {
	ctx := context.Background()
	fs := store.NewFileStore(t.TempDir())
	tracker := NewTracker(loadedDirectory(t, threeValidators()), fs, NewSavePolicy(100, 0, false, false), log.NewNopLogger())

	first, err := tracker.OnBlock(ctx, BlockEvent{Height: 100, Signatures: []CommitSig{{Validator: addr(1), Timestamp: "t", Signature: "s"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalSigned)

	_, err = tracker.OnBlock(ctx, BlockEvent{Height: 100, Signatures: []CommitSig{
		{Validator: addr(1), Timestamp: "t", Signature: "s"},
		{Validator: addr(2), Timestamp: "t", Signature: "s"},
	}})
	require.NoError(t, err)

	var saved store.BlockSignatureSet
	readJSON(t, fs.Path(100, store.SignaturesFile), &saved)
	assert.Equal(t, 1, saved.TotalSigned)
	assert.Equal(t, 2, saved.TotalMissed)
}

func TestTrackerSkipsUnselectedHeights(t *testing.T) {
	fs := store.NewFileStore(t.TempDir())
	tracker := NewTracker(loadedDirectory(t, threeValidators()), fs, NewSavePolicy(0, 0, false, true), log.NewNopLogger())

	set, err := tracker.OnBlock(context.Background(), BlockEvent{Height: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, set.TotalMissed)
	assert.NoFileExists(t, fs.Path(5, store.SignaturesFile))
}
