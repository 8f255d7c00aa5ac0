package launch

import (
	"errors"
	"testing"
	"time"
)

func TestFreshnessAccept(t *testing.T) {
	startup := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	filter := NewFreshnessFilter(1000, startup, 10)

	cases := []struct {
		name         string
		block        uint64
		currentBlock uint64
		blockTime    time.Time
		want         error
	}{
		{"fresh", 1005, 1008, startup.Add(time.Minute), nil},
		{"at startup block", 1000, 1008, startup.Add(time.Minute), ErrBeforeStartup},
		{"before startup block", 990, 1008, startup.Add(time.Minute), ErrBeforeStartup},
		{"too many blocks behind", 1005, 1020, startup.Add(time.Minute), ErrStaleBlock},
		{"exactly at bound", 1005, 1015, startup.Add(time.Minute), nil},
		{"timestamp at startup", 1005, 1008, startup, ErrStaleTimestamp},
		{"timestamp before startup", 1005, 1008, startup.Add(-time.Second), ErrStaleTimestamp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := Event{BlockNumber: tc.block}
			got := filter.Accept(ev, tc.currentBlock, tc.blockTime)
			if !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestFreshnessDefaultsAgeBound(t *testing.T) {
	filter := NewFreshnessFilter(0, time.Time{}, 0)
	if filter.maxAgeBlocks != 10 {
		t.Fatalf("expected default bound 10, got %d", filter.maxAgeBlocks)
	}
}
