package knowledge

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStoreName(t *testing.T) {
	assert.Equal(t, "42_张教授", BuildStoreName(42, " 张教授 "))

	long := strings.Repeat("名", 100)
	name := BuildStoreName(7, long)
	assert.Equal(t, 64, utf8.RuneCountInString(name))
	assert.True(t, strings.HasPrefix(name, "7_"))
}

func TestSimulatedStoreClient_DeterministicIDs(t *testing.T) {
	c := NewSimulatedStoreClient(nil)
	ctx := context.Background()

	storeID, err := c.CreateStore(ctx, 12, "12_test")
	require.NoError(t, err)
	assert.Equal(t, "sim_store_12", storeID)

	f1, err := c.AttachFile(ctx, storeID, []byte("a"), "a.txt")
	require.NoError(t, err)
	f2, err := c.AttachFile(ctx, storeID, []byte("b"), "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "sim_store_12_file_1", f1)
	assert.Equal(t, "sim_store_12_file_2", f2)

	assert.True(t, c.Simulated())
	assert.True(t, c.Ready(ctx))
	assert.NoError(t, c.RemoveStore(ctx, storeID))
}

func TestSimulatedStoreClient_RemoveClearsLocalVectors(t *testing.T) {
	sink := &recordingChunkStore{}
	c := NewSimulatedStoreClient(sink)

	require.NoError(t, c.RemoveStore(context.Background(), "sim_store_33"))
	assert.Equal(t, []uint{33}, sink.deleted)
}

// recordingChunkStore 记录DeleteClone调用的测试替身
type recordingChunkStore struct {
	deleted []uint
}

func (r *recordingChunkStore) UpsertChunk(ctx context.Context, chunk VectorChunk) (string, error) {
	return "", nil
}

func (r *recordingChunkStore) DeleteClone(ctx context.Context, cloneID uint) error {
	r.deleted = append(r.deleted, cloneID)
	return nil
}

func (r *recordingChunkStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	return nil, nil
}

func (r *recordingChunkStore) Ready() bool {
	return true
}
