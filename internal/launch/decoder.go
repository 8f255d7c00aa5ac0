package launch

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// The factory has emitted two launch event shapes over its lifetime. Both
// carry creator and two referrer addresses as indexed topics; the newer shape
// adds the trading currency to the payload. Anything outside this allow-list
// is dropped.
//
// TokenCreated(address indexed creator, address indexed referrer,
//              address indexed originReferrer, address token,
//              address currency, string name, string symbol)
// TokenLaunched(address indexed creator, address indexed referrer,
//               address indexed originReferrer, address token,
//               string name, string symbol)
var (
	tokenCreatedSelector  = crypto.Keccak256Hash([]byte("TokenCreated(address,address,address,address,address,string,string)"))
	tokenLaunchedSelector = crypto.Keccak256Hash([]byte("TokenLaunched(address,address,address,address,string,string)"))
)

type eventShape struct {
	name        string
	hasCurrency bool
	args        abi.Arguments
}

var shapesBySelector = map[common.Hash]eventShape{
	tokenCreatedSelector: {
		name:        "TokenCreated",
		hasCurrency: true,
		args: abi.Arguments{
			{Name: "token", Type: mustType("address")},
			{Name: "currency", Type: mustType("address")},
			{Name: "name", Type: mustType("string")},
			{Name: "symbol", Type: mustType("string")},
		},
	},
	tokenLaunchedSelector: {
		name:        "TokenLaunched",
		hasCurrency: false,
		args: abi.Arguments{
			{Name: "token", Type: mustType("address")},
			{Name: "name", Type: mustType("string")},
			{Name: "symbol", Type: mustType("string")},
		},
	},
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Decode extracts a launch event from a raw log. It is a pure function of the
// log: no network calls, and malformed input of any kind yields ok=false
// rather than a guess or a panic. ObservedAt is left for the caller to stamp.
func Decode(lg types.Log) (Event, bool) {
	if len(lg.Topics) != 4 {
		return Event{}, false
	}
	shape, ok := shapesBySelector[lg.Topics[0]]
	if !ok {
		return Event{}, false
	}
	creator, ok := addressFromTopic(lg.Topics[1])
	if !ok {
		return Event{}, false
	}
	referrer, ok := addressFromTopic(lg.Topics[2])
	if !ok {
		return Event{}, false
	}
	origin, ok := addressFromTopic(lg.Topics[3])
	if !ok {
		return Event{}, false
	}

	// Address slots sit at fixed head positions; reject the whole log when a
	// slot does not hold a plausible left-padded address.
	addressSlots := 1
	if shape.hasCurrency {
		addressSlots = 2
	}
	if len(lg.Data) < 32*len(shape.args) {
		return Event{}, false
	}
	for i := 0; i < addressSlots; i++ {
		if !plausibleAddressWord(lg.Data[32*i : 32*(i+1)]) {
			return Event{}, false
		}
	}

	values, err := shape.args.Unpack(lg.Data)
	if err != nil || len(values) != len(shape.args) {
		return Event{}, false
	}
	token, ok := values[0].(common.Address)
	if !ok || token == (common.Address{}) {
		return Event{}, false
	}
	ev := Event{
		Creator:        creator,
		Referrer:       referrer,
		OriginReferrer: origin,
		Token:          token,
		BlockNumber:    lg.BlockNumber,
		TxHash:         lg.TxHash,
		LogIndex:       lg.Index,
	}
	rest := values[1:]
	if shape.hasCurrency {
		currency, ok := values[1].(common.Address)
		if !ok {
			return Event{}, false
		}
		ev.Currency = currency
		rest = values[2:]
	}
	name, ok := rest[0].(string)
	if !ok {
		return Event{}, false
	}
	symbol, ok := rest[1].(string)
	if !ok {
		return Event{}, false
	}
	ev.Name = name
	ev.Symbol = symbol
	return ev, true
}

// addressFromTopic recovers the low 20 bytes of an indexed address topic. The
// high 12 bytes must be zero for the topic to plausibly hold an address.
func addressFromTopic(topic common.Hash) (common.Address, bool) {
	if !plausibleAddressWord(topic[:]) {
		return common.Address{}, false
	}
	addr := common.BytesToAddress(topic[12:])
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

func plausibleAddressWord(word []byte) bool {
	if len(word) != 32 {
		return false
	}
	for _, b := range word[:12] {
		if b != 0 {
			return false
		}
	}
	return true
}
