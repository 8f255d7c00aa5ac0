package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	LaunchesDecoded Counter
	LaunchesStale   Counter
	GateRejected    Counter
	PositionsOpened Counter
	PositionsClosed Counter
	BuysFailed      Counter
	SellsFailed     Counter
	LevelsFilled    Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		LaunchesDecoded: n,
		LaunchesStale:   n,
		GateRejected:    n,
		PositionsOpened: n,
		PositionsClosed: n,
		BuysFailed:      n,
		SellsFailed:     n,
		LevelsFilled:    n,
	}
}
