package connectors

// FULL REST API CLIENT FOR BINANCE SPOT (v3)
// RESTY ONLY + INTERNAL RETRY

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const defaultBinanceBaseURL = "https://api.binance.com"

type binanceErrorResp struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type binanceOrderResp struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	OrigClientOrderID   string `json:"origClientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Price               string `json:"price"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

type binanceAccountResp struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type binanceTickerResp struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// BinanceClient talks to the Binance spot REST API for one account.
type BinanceClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *resty.Client
	limiter   *rate.Limiter
}

func NewBinanceClient(apiKey, apiSecret, baseURL string, limiter *rate.Limiter) *BinanceClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBinanceBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if limiter == nil {
		limiter = newRequestLimiter(GetConfig())
	}

	return &BinanceClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		http:      newRestyClient(baseURL),
		limiter:   limiter,
	}
}

func (c *BinanceClient) Name() string { return "BINANCE" }

// signQuery appends timestamp and an HMAC-SHA256 signature over the encoded
// query string, per the Binance SIGNED endpoint rules.
func (c *BinanceClient) signQuery(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")

	encoded := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(encoded))
	return encoded + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (c *BinanceClient) doPublicRequest(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	return c.doRequest(ctx, method, endpoint, params, false, out)
}

func (c *BinanceClient) doPrivateRequest(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	return c.doRequest(ctx, method, endpoint, params, true, out)
}

func (c *BinanceClient) doRequest(ctx context.Context, method, endpoint string, params url.Values, auth bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")

	query := params.Encode()
	if auth {
		req = req.SetHeader("X-MBX-APIKEY", c.apiKey)
		query = c.signQuery(params)
	}
	if query != "" {
		req = req.SetQueryString(query)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return fmt.Errorf("binance %s %s: %w", method, endpoint, err)
	}

	body := resp.Body()
	if resp.IsError() {
		var apiErr binanceErrorResp
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Code != 0 {
			return fmt.Errorf("binance %s %s: %w: %s", method, endpoint,
				ErrExchangeRejected, binanceErrorMessage(apiErr.Code, apiErr.Msg))
		}
		return fmt.Errorf("binance %s %s: HTTP %d: %s", method, endpoint, resp.StatusCode(), string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("binance %s %s: decode response: %w", method, endpoint, err)
		}
	}
	return nil
}

func (c *BinanceClient) TestConnection(ctx context.Context) error {
	return c.doPublicRequest(ctx, resty.MethodGet, "/api/v3/ping", nil, nil)
}

func (c *BinanceClient) FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	var acct binanceAccountResp
	if err := c.doPrivateRequest(ctx, resty.MethodGet, "/api/v3/account", nil, &acct); err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal, len(acct.Balances))
	for _, b := range acct.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		if free.IsZero() {
			continue
		}
		balances[b.Asset] = free
	}
	return balances, nil
}

func (c *BinanceClient) CreateOrder(ctx context.Context, r CreateOrderRequest) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", r.Symbol)
	params.Set("side", r.Side)
	params.Set("newClientOrderId", r.ClientOrderID)
	params.Set("newOrderRespType", "FULL")

	switch r.OrderType {
	case "MARKET":
		params.Set("type", "MARKET")
		if r.Side == "BUY" && r.QuoteAmount.IsPositive() {
			params.Set("quoteOrderQty", r.QuoteAmount.String())
		} else {
			params.Set("quantity", r.Quantity.String())
		}
	case "LIMIT", "STOP_LIMIT":
		if r.Price == nil {
			return nil, fmt.Errorf("binance: %s order for %s has no price", r.OrderType, r.Symbol)
		}
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("quantity", r.Quantity.String())
		params.Set("price", r.Price.String())
	default:
		return nil, fmt.Errorf("binance: unsupported order type %q", r.OrderType)
	}

	var resp binanceOrderResp
	if err := c.doPrivateRequest(ctx, resty.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return nil, err
	}
	return c.toOrderResult(&resp)
}

func (c *BinanceClient) FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", exchangeOrderID)

	var resp binanceOrderResp
	if err := c.doPrivateRequest(ctx, resty.MethodGet, "/api/v3/order", params, &resp); err != nil {
		return nil, err
	}
	return c.toOrderResult(&resp)
}

func (c *BinanceClient) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", exchangeOrderID)

	return c.doPrivateRequest(ctx, resty.MethodDelete, "/api/v3/order", params, nil)
}

func (c *BinanceClient) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp binanceTickerResp
	if err := c.doPublicRequest(ctx, resty.MethodGet, "/api/v3/ticker/price", params, &resp); err != nil {
		return nil, err
	}

	last, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return nil, fmt.Errorf("binance: ticker price %q for %s: %w", resp.Price, symbol, err)
	}
	return &Ticker{Symbol: resp.Symbol, Last: last}, nil
}

func (c *BinanceClient) toOrderResult(resp *binanceOrderResp) (*OrderResult, error) {
	executed, err := decimal.NewFromString(resp.ExecutedQty)
	if err != nil {
		executed = decimal.Zero
	}
	cummQuote, err := decimal.NewFromString(resp.CummulativeQuoteQty)
	if err != nil {
		cummQuote = decimal.Zero
	}

	avg := decimal.Zero
	if executed.IsPositive() {
		avg = cummQuote.DivRound(executed, 8)
	}

	clientID := resp.ClientOrderID
	if clientID == "" {
		clientID = resp.OrigClientOrderID
	}

	raw, _ := json.Marshal(resp)

	return &OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:   clientID,
		Status:          resp.Status,
		ExecutedQty:     executed,
		CummQuoteQty:    cummQuote,
		AvgPrice:        avg,
		Raw:             string(raw),
	}, nil
}
