package position

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Status string

type CloseReason string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

const (
	CloseReasonStopLoss  CloseReason = "STOP_LOSS"
	CloseReasonTimeLimit CloseReason = "TIME_LIMIT"
	CloseReasonFullExit  CloseReason = "FULL_EXIT"
)

// Position tracks one token from buy to full exit. EntryPrice and
// StopLossPrice are absolute ETH valuations of the whole position, not
// per-token prices; sizes are token amounts.
//
// RemainingSize + TotalSold equals OriginalSize at every observable point
// (within floating tolerance), and LevelsHit only ever grows.
type Position struct {
	ID              string
	Token           common.Address
	Creator         common.Address
	Name            string
	Symbol          string
	EntryPrice      float64
	OriginalSize    float64
	RemainingSize   float64
	EntryTime       time.Time
	StopLossPrice   float64
	MaxHoldDeadline time.Time
	LevelsHit       []int
	TotalSold       float64
	RealizedPnL     float64
	Status          Status
	CloseReason     CloseReason
	ExitPrice       float64
	ExitTime        time.Time
}

func (p *Position) LevelHit(index int) bool {
	for _, hit := range p.LevelsHit {
		if hit == index {
			return true
		}
	}
	return false
}
