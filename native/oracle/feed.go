package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// RoundData is the normalised report read from a round-based upstream price
// aggregator. Answer carries the raw integer price in the feed's native
// decimals and may be non-positive when the round is faulty.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       int64
	UpdatedAt       int64
	AnsweredInRound uint64
}

// FeedReader exposes the reporting interface of one upstream aggregator.
type FeedReader interface {
	// LatestRound returns the most recent report available upstream.
	LatestRound(ctx context.Context) (RoundData, error)
	// Decimals reports the feed's native decimal count.
	Decimals() uint8
	// Address identifies the upstream aggregator contract.
	Address() ethcommon.Address
}

// MemoryFeed is an in-process FeedReader fed by an operator or a test. It is
// the push-style counterpart to remote aggregator adapters.
type MemoryFeed struct {
	mu       sync.RWMutex
	address  ethcommon.Address
	decimals uint8
	round    RoundData
	hasRound bool
}

// NewMemoryFeed constructs an empty feed with the supplied identity.
func NewMemoryFeed(address ethcommon.Address, decimals uint8) *MemoryFeed {
	return &MemoryFeed{address: address, decimals: decimals}
}

// SetRound replaces the latest report.
func (f *MemoryFeed) SetRound(round RoundData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if round.Answer != nil {
		round.Answer = new(big.Int).Set(round.Answer)
	}
	f.round = round
	f.hasRound = true
}

// Push appends a fresh, internally consistent round with the supplied answer
// and timestamp, advancing the round counter.
func (f *MemoryFeed) Push(answer *big.Int, reportedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.round.RoundID + 1
	f.round = RoundData{
		RoundID:         next,
		Answer:          new(big.Int).Set(answer),
		StartedAt:       reportedAt.Unix(),
		UpdatedAt:       reportedAt.Unix(),
		AnsweredInRound: next,
	}
	f.hasRound = true
}

// LatestRound implements FeedReader.
func (f *MemoryFeed) LatestRound(context.Context) (RoundData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.hasRound {
		return RoundData{}, fmt.Errorf("oracle: feed %s has no rounds", f.address.Hex())
	}
	round := f.round
	if round.Answer != nil {
		round.Answer = new(big.Int).Set(round.Answer)
	}
	return round, nil
}

// Decimals implements FeedReader.
func (f *MemoryFeed) Decimals() uint8 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.decimals
}

// Address implements FeedReader.
func (f *MemoryFeed) Address() ethcommon.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.address
}
