package launch

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// seenRetentionBlocks controls how long delivered (txHash, logIndex) pairs are
// remembered for dedup before being pruned.
const seenRetentionBlocks = 1024

type LogSource interface {
	FilterLogs(ctx context.Context, address common.Address, from, to uint64) ([]types.Log, error)
}

type eventKey struct {
	txHash   common.Hash
	logIndex uint
}

// Poller pulls factory logs window by window and turns them into ordered,
// deduplicated launch events. It is driven by a single goroutine.
type Poller struct {
	source  LogSource
	factory common.Address
	log     *zap.Logger

	nextFrom uint64
	seen     map[eventKey]uint64
}

func NewPoller(source LogSource, factory common.Address, startBlock uint64, log *zap.Logger) *Poller {
	return &Poller{
		source:   source,
		factory:  factory,
		log:      log,
		nextFrom: startBlock + 1,
		seen:     make(map[eventKey]uint64),
	}
}

// Poll fetches logs from the last polled block up to currentBlock and returns
// the decoded launches in ascending (blockNumber, logIndex) order. A pair
// already delivered in this run is never re-emitted, even when windows
// overlap. On error the window is left untouched and retried next tick.
func (p *Poller) Poll(ctx context.Context, currentBlock uint64) ([]Event, error) {
	if currentBlock < p.nextFrom {
		return nil, nil
	}
	from, to := p.nextFrom, currentBlock
	logs, err := p.source.FilterLogs(ctx, p.factory, from, to)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, ok := Decode(lg)
		if !ok {
			p.log.Debug("dropped undecodable factory log",
				zap.Uint64("block", lg.BlockNumber),
				zap.String("tx", lg.TxHash.Hex()),
				zap.Uint("log_index", lg.Index),
			)
			continue
		}
		key := eventKey{txHash: ev.TxHash, logIndex: ev.LogIndex}
		if _, dup := p.seen[key]; dup {
			continue
		}
		p.seen[key] = ev.BlockNumber
		ev.ObservedAt = now
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	// The tail block may still be filling with logs when we scan it, so the
	// next window starts at `to` rather than `to+1`; dedup absorbs the repeat.
	p.nextFrom = to
	p.prune(to)
	return events, nil
}

func (p *Poller) prune(current uint64) {
	if current < seenRetentionBlocks {
		return
	}
	cutoff := current - seenRetentionBlocks
	for key, block := range p.seen {
		if block < cutoff {
			delete(p.seen, key)
		}
	}
}
