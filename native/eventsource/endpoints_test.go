package eventsource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/native/ledger"
)

type stubChainClient struct {
	name string
	err  error
	head uint64
}

func (s *stubChainClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.head, nil
}

func (s *stubChainClient) BlockHeader(ctx context.Context, number uint64) (BlockHeader, error) {
	if s.err != nil {
		return BlockHeader{}, s.err
	}
	return BlockHeader{Number: number}, nil
}

func (s *stubChainClient) EventsInRange(ctx context.Context, fromBlock, toBlock uint64) ([]ledger.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return nil, nil
}

func TestFallbackRingRotatesAfterMaxFailures(t *testing.T) {
	primary := &stubChainClient{name: "primary", err: errors.New("boom")}
	backup := &stubChainClient{name: "backup", head: 42}

	ring := NewFallbackRing(map[string]ChainClient{
		"primary": primary,
		"backup":  backup,
	}, []string{"primary", "backup"})

	for i := 0; i < MaxEndpointFailures; i++ {
		_, err := ring.HeadBlockNumber(context.Background())
		require.Error(t, err)
	}

	head, err := ring.HeadBlockNumber(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 42, head)
}

func TestFallbackRingRecoversAfterSuccess(t *testing.T) {
	client := &stubChainClient{name: "only", head: 7}
	ring := NewFallbackRing(map[string]ChainClient{"only": client}, []string{"only"})

	head, err := ring.HeadBlockNumber(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, head)
}
