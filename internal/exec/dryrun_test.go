package exec

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

func TestDryRunDeterministic(t *testing.T) {
	token := common.HexToAddress("0x4444444444444444444444444444444444444444")
	ctx := context.Background()

	first := NewDryRun(zap.NewNop())
	second := NewDryRun(zap.NewNop())
	for i := 0; i < 5; i++ {
		a, err := first.Quote(ctx, token, 100)
		if err != nil {
			t.Fatalf("quote failed: %v", err)
		}
		b, err := second.Quote(ctx, token, 100)
		if err != nil {
			t.Fatalf("quote failed: %v", err)
		}
		if a != b {
			t.Fatalf("step %d: expected identical quotes, got %v and %v", i, a, b)
		}
	}
}

func TestDryRunQuoteWalksPriceCycle(t *testing.T) {
	token := common.HexToAddress("0x0000000000000000000000000000000000000001")
	dry := NewDryRun(zap.NewNop())
	ctx := context.Background()

	first, err := dry.Quote(ctx, token, 100)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	second, err := dry.Quote(ctx, token, 100)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if second == first {
		t.Fatalf("expected price to move between quotes")
	}
}

func TestDryRunBuySellRoundTrip(t *testing.T) {
	token := common.HexToAddress("0x0000000000000000000000000000000000000002")
	dry := NewDryRun(zap.NewNop())
	ctx := context.Background()

	buy, err := dry.Buy(ctx, BuyOrder{Token: token, AmountETH: 0.5})
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if buy.AmountOut <= 0 || buy.TxRef == "" {
		t.Fatalf("unexpected buy fill: %+v", buy)
	}

	// No quote in between, so the sell happens at the same price.
	sell, err := dry.Sell(ctx, SellOrder{Token: token, AmountTokens: buy.AmountOut})
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if diff := sell.AmountOut - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected round trip to return 0.5 ETH, got %v", sell.AmountOut)
	}
}

func TestDryRunRejectsNonPositiveAmounts(t *testing.T) {
	token := common.Address{0x03}
	dry := NewDryRun(zap.NewNop())
	ctx := context.Background()

	if _, err := dry.Buy(ctx, BuyOrder{Token: token}); err == nil {
		t.Fatalf("expected buy error for zero amount")
	}
	if _, err := dry.Sell(ctx, SellOrder{Token: token}); err == nil {
		t.Fatalf("expected sell error for zero amount")
	}
	if _, err := dry.Quote(ctx, token, 0); err == nil {
		t.Fatalf("expected quote error for zero amount")
	}
}

func TestApplySlippage(t *testing.T) {
	out := applySlippage(ethToWei(1))
	if weiToFloat(out) != 0.95 {
		t.Fatalf("expected 5%% slippage pad, got %v", weiToFloat(out))
	}
}
