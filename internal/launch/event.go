package launch

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a normalized token launch decoded from a factory log. It is
// produced once by the decoder and consumed once by the gating pipeline.
type Event struct {
	Creator        common.Address
	Referrer       common.Address
	OriginReferrer common.Address
	Token          common.Address
	Currency       common.Address
	Name           string
	Symbol         string
	BlockNumber    uint64
	TxHash         common.Hash
	LogIndex       uint
	ObservedAt     time.Time
}
