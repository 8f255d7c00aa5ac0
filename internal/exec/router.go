package exec

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"launch-ladder-bot/internal/config"
)

// slippageBps pads minOut below the quoted amount so a swap does not revert on
// small price movement between quote and inclusion.
const slippageBps = 500

const routerABIJSON = `[
	{"type":"function","name":"buyToken","stateMutability":"payable","inputs":[{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"minOut","type":"uint256"}],"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"sellToken","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"recipient","type":"address"},{"name":"minOut","type":"uint256"}],"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"quoteBuy","stateMutability":"view","inputs":[{"name":"token","type":"address"},{"name":"ethIn","type":"uint256"}],"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"quoteSell","stateMutability":"view","inputs":[{"name":"token","type":"address"},{"name":"amountIn","type":"uint256"}],"outputs":[{"name":"ethOut","type":"uint256"}]}
]`

var routerABI = mustParseABI(routerABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Router executes swaps through the venue's router contract. A swap counts as
// filled only once its transaction is mined with status 1.
type Router struct {
	eth            *ethclient.Client
	signer         *Signer
	router         common.Address
	chainID        *big.Int
	gasLimit       uint64
	confirmTimeout time.Duration
	log            *zap.Logger
}

func NewRouter(eth *ethclient.Client, signer *Signer, cfg config.GatewayConfig, log *zap.Logger) (*Router, error) {
	if eth == nil {
		return nil, errors.New("eth client is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	return &Router{
		eth:            eth,
		signer:         signer,
		router:         common.HexToAddress(cfg.RouterAddress),
		chainID:        big.NewInt(cfg.ChainID),
		gasLimit:       cfg.GasLimit,
		confirmTimeout: cfg.ConfirmTimeout,
		log:            log,
	}, nil
}

func (r *Router) Buy(ctx context.Context, order BuyOrder) (Fill, error) {
	if order.AmountETH <= 0 {
		return Fill{}, errors.New("buy amount must be > 0")
	}
	value := ethToWei(order.AmountETH)
	expected, err := r.quoteBuy(ctx, order.Token, value)
	if err != nil {
		return Fill{}, fmt.Errorf("quote buy %s: %w", order.Token.Hex(), err)
	}
	data, err := routerABI.Pack("buyToken", order.Token, r.signer.Address(), applySlippage(expected))
	if err != nil {
		return Fill{}, err
	}
	txHash, err := r.sendAndConfirm(ctx, value, data)
	if err != nil {
		return Fill{}, fmt.Errorf("buy %s: %w", order.Token.Hex(), err)
	}
	return Fill{AmountOut: weiToFloat(expected), TxRef: txHash.Hex()}, nil
}

func (r *Router) Sell(ctx context.Context, order SellOrder) (Fill, error) {
	if order.AmountTokens <= 0 {
		return Fill{}, errors.New("sell amount must be > 0")
	}
	amountIn := ethToWei(order.AmountTokens)
	expected, err := r.quoteSell(ctx, order.Token, amountIn)
	if err != nil {
		return Fill{}, fmt.Errorf("quote sell %s: %w", order.Token.Hex(), err)
	}
	data, err := routerABI.Pack("sellToken", order.Token, amountIn, r.signer.Address(), applySlippage(expected))
	if err != nil {
		return Fill{}, err
	}
	txHash, err := r.sendAndConfirm(ctx, new(big.Int), data)
	if err != nil {
		return Fill{}, fmt.Errorf("sell %s: %w", order.Token.Hex(), err)
	}
	return Fill{AmountOut: weiToFloat(expected), TxRef: txHash.Hex()}, nil
}

func (r *Router) Quote(ctx context.Context, token common.Address, amountTokens float64) (float64, error) {
	if amountTokens <= 0 {
		return 0, errors.New("quote amount must be > 0")
	}
	out, err := r.quoteSell(ctx, token, ethToWei(amountTokens))
	if err != nil {
		return 0, err
	}
	return weiToFloat(out), nil
}

func (r *Router) quoteBuy(ctx context.Context, token common.Address, ethIn *big.Int) (*big.Int, error) {
	return r.callQuote(ctx, "quoteBuy", token, ethIn)
}

func (r *Router) quoteSell(ctx context.Context, token common.Address, amountIn *big.Int) (*big.Int, error) {
	return r.callQuote(ctx, "quoteSell", token, amountIn)
}

func (r *Router) callQuote(ctx context.Context, method string, token common.Address, amount *big.Int) (*big.Int, error) {
	data, err := routerABI.Pack(method, token, amount)
	if err != nil {
		return nil, err
	}
	raw, err := r.eth.CallContract(ctx, ethereum.CallMsg{To: &r.router, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := routerABI.Unpack(method, raw)
	if err != nil {
		return nil, err
	}
	out, ok := values[0].(*big.Int)
	if !ok || out.Sign() <= 0 {
		return nil, fmt.Errorf("%s returned no liquidity", method)
	}
	return out, nil
}

func (r *Router) sendAndConfirm(ctx context.Context, value *big.Int, data []byte) (common.Hash, error) {
	nonce, err := r.eth.PendingNonceAt(ctx, r.signer.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := r.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &r.router,
		Value:    value,
		Gas:      r.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := r.signer.SignTx(tx, r.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := r.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, r.eth, signed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("confirm %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return signed.Hash(), nil
}

func applySlippage(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(10_000-slippageBps))
	return out.Div(out, big.NewInt(10_000))
}

func ethToWei(amount float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18)).Int(nil)
	return wei
}

func weiToFloat(wei *big.Int) float64 {
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return out
}
