package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/store"
)

type fakeReadSink struct {
	match *store.SourcifyMatch
	calls int
	err   error
}

func (f *fakeReadSink) GetByChainAndAddress(ctx context.Context, chainID, address string) (*store.SourcifyMatch, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.match, nil
}

func (f *fakeReadSink) GetFiles(ctx context.Context, chainID, address string) (map[string][]byte, error) {
	return map[string][]byte{"a.sol": []byte("contract A {}")}, nil
}

// unreachableCache points at a port nothing listens on, exercising the
// degrade-to-miss path without requiring a live Redis instance, mirroring
// the teacher's redis adapter tests which never dial a real server either.
func unreachableCache(t *testing.T, underlying *fakeReadSink) *ReadThroughCache {
	t.Helper()
	c := New(Config{Addr: "127.0.0.1:1", TTL: time.Minute}, underlying, zap.NewNop())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReadThroughCacheFallsThroughToUnderlyingWhenRedisUnreachable(t *testing.T) {
	underlying := &fakeReadSink{match: &store.SourcifyMatch{RuntimeMatch: store.StatusPerfect}}
	c := unreachableCache(t, underlying)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	match, err := c.GetByChainAndAddress(ctx, "1", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPerfect, match.RuntimeMatch)
	assert.Equal(t, 1, underlying.calls)
}

func TestReadThroughCachePropagatesUnderlyingError(t *testing.T) {
	underlying := &fakeReadSink{err: store.ErrNotFound}
	c := unreachableCache(t, underlying)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.GetByChainAndAddress(ctx, "1", "0xabc")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReadThroughCacheGetFilesPassesThrough(t *testing.T) {
	underlying := &fakeReadSink{}
	c := unreachableCache(t, underlying)

	files, err := c.GetFiles(context.Background(), "1", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "contract A {}", string(files["a.sol"]))
}
