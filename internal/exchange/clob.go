package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/go-resty/resty/v2"

	"polymarket-lp/internal/config"
	"polymarket-lp/pkg/types"
)

// ctfExchangeAddress is the Polymarket CTF Exchange contract on Polygon,
// used as the verifying contract for EIP-712 order signatures.
const ctfExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

// CLOBClient is the live Polymarket CLOB REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type CLOBClient struct {
	http   *resty.Client // HTTP client with retry + base URL
	auth   *Auth         // L1/L2 auth provider for request signing
	rl     *RateLimiter  // per-endpoint-category rate limiting
	logger *slog.Logger
}

var _ Client = (*CLOBClient)(nil)

// NewCLOBClient creates a live REST client with rate limiting and retry.
func NewCLOBClient(cfg config.Config, auth *Auth, logger *slog.Logger) *CLOBClient {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &CLOBClient{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

// Mode reports that this client executes real orders.
func (c *CLOBClient) Mode() types.Mode {
	return types.ModeLive
}

// GetOrderBook fetches the order book for a single token.
func (c *CLOBClient) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// PlaceOrder signs and posts a single GTC limit order, returning the
// exchange-assigned order ID.
func (c *CLOBClient) PlaceOrder(ctx context.Context, tokenID string, side types.Side, price, size float64) (string, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	payload, err := c.buildOrderPayload(tokenID, side, price, size)
	if err != nil {
		return "", fmt.Errorf("build order: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return "", fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return "", fmt.Errorf("post order rejected: %s", result.ErrorMsg)
	}

	c.logger.Info("order placed",
		"order_id", result.OrderID, "side", side, "price", price, "size", size)
	return result.OrderID, nil
}

// buildOrderPayload converts price/size to big.Int maker/taker amounts,
// sets the maker to the funder wallet (proxy), the signer to the EOA, the
// taker to the zero address (open order, anyone can fill), and signs the
// order against the CTF Exchange contract.
func (c *CLOBClient) buildOrderPayload(tokenID string, side types.Side, price, size float64) (*types.OrderPayload, error) {
	makerAmt, takerAmt := PriceToAmounts(price, size, side)

	order := types.SignedOrder{
		Salt:          fmt.Sprintf("%d", rand.Int63()),
		Maker:         c.auth.FunderAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Side:          side,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: c.auth.sigType,
	}

	sig, err := c.signOrder(&order)
	if err != nil {
		return nil, err
	}
	order.Signature = sig

	return &types.OrderPayload{
		Order:     order,
		Owner:     c.auth.creds.ApiKey,
		OrderType: "GTC",
	}, nil
}

// signOrder produces the EIP-712 signature the CTF Exchange verifies on-chain.
func (c *CLOBClient) signOrder(order *types.SignedOrder) (string, error) {
	sideIdx := "0"
	if order.Side == types.SELL {
		sideIdx = "1"
	}

	sig, err := c.auth.SignTypedData(
		&apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           (*ethmath.HexOrDecimal256)(c.auth.chainID),
			VerifyingContract: ctfExchangeAddress,
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		apitypes.TypedDataMessage{
			"salt":          order.Salt,
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         order.Taker,
			"tokenId":       order.TokenID,
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration,
			"nonce":         order.Nonce,
			"feeRateBps":    order.FeeRateBps,
			"side":          sideIdx,
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
		"Order",
	)
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// Cancel cancels a single order by ID.
func (c *CLOBClient) Cancel(ctx context.Context, orderID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"orderID":%q}`, orderID)
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("order cancelled", "order_id", orderID)
	return nil
}

// CancelAll cancels every open order across all markets.
func (c *CLOBClient) CancelAll(ctx context.Context) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return nil
}

// GetOrderStatus fetches the current state of a single order.
func (c *CLOBClient) GetOrderStatus(ctx context.Context, orderID string) (*types.OpenOrder, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/data/order/" + orderID
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *CLOBClient) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
