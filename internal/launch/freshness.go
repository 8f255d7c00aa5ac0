package launch

import (
	"errors"
	"time"
)

var (
	ErrBeforeStartup  = errors.New("event precedes engine startup")
	ErrStaleBlock     = errors.New("event block exceeds staleness bound")
	ErrStaleTimestamp = errors.New("event timestamp precedes engine startup")
)

// FreshnessFilter rejects launches the engine did not witness live. Block
// numbers and timestamps can disagree slightly across data sources, so the
// three checks stay independent: reacting to a stale launch is worse than
// missing a fresh one.
type FreshnessFilter struct {
	startupBlock uint64
	startupTime  time.Time
	maxAgeBlocks uint64
}

func NewFreshnessFilter(startupBlock uint64, startupTime time.Time, maxAgeBlocks uint64) *FreshnessFilter {
	if maxAgeBlocks == 0 {
		maxAgeBlocks = 10
	}
	return &FreshnessFilter{startupBlock: startupBlock, startupTime: startupTime, maxAgeBlocks: maxAgeBlocks}
}

// Accept returns nil only when the event is strictly newer than startup by
// block number, within the staleness bound, and strictly newer by timestamp.
func (f *FreshnessFilter) Accept(ev Event, currentBlock uint64, blockTime time.Time) error {
	if ev.BlockNumber <= f.startupBlock {
		return ErrBeforeStartup
	}
	if currentBlock > ev.BlockNumber && currentBlock-ev.BlockNumber > f.maxAgeBlocks {
		return ErrStaleBlock
	}
	if !blockTime.After(f.startupTime) {
		return ErrStaleTimestamp
	}
	return nil
}
