// Package binance implements market.PriceSource and market.OrderPlacer
// against live Binance spot via go-binance/v2.
package binance

import (
	"context"
	"fmt"
	"strconv"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/koshedutech/candlewatch/internal/market"
	"github.com/koshedutech/candlewatch/internal/xerr"
)

// Client adapts go-binance/v2's spot client to market.PriceSource/OrderPlacer.
type Client struct {
	api *gobinance.Client
}

// New builds a live Binance spot client. testnet switches the package-level
// base URL to Binance's testnet host.
func New(apiKey, secretKey string, testnet bool) *Client {
	if testnet {
		gobinance.UseTestnet = true
	}
	return &Client{api: gobinance.NewClient(apiKey, secretKey)}
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, xerr.Wrap(xerr.TransientIO, "get price", err)
	}
	if len(prices) == 0 {
		return 0, xerr.Wrap(xerr.PermanentIO, fmt.Sprintf("no price for %s", symbol), nil)
	}
	p, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, xerr.Wrap(xerr.ParseFailure, "parse price", err)
	}
	return p, nil
}

func (c *Client) GetAllPrices(ctx context.Context) (map[string]float64, error) {
	prices, err := c.api.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, xerr.Wrap(xerr.TransientIO, "list prices", err)
	}
	out := make(map[string]float64, len(prices))
	for _, p := range prices {
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			continue
		}
		out[p.Symbol] = v
	}
	return out, nil
}

func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	klines, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, xerr.Wrap(xerr.TransientIO, "get klines", err)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		cls, _ := strconv.ParseFloat(k.Close, 64)
		vol, _ := strconv.ParseFloat(k.Volume, 64)
		out = append(out, market.Candle{
			OpenTime:  k.OpenTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    vol,
			CloseTime: k.CloseTime,
		})
	}
	return out, nil
}

// StreamTickers is not implemented by the live spot adapter in this engine;
// the Scanner drives snapshot computation on the fixed tick cadence instead
// of a push feed.
func (c *Client) StreamTickers(ctx context.Context, symbols []string, callback func(symbol string, price float64)) error {
	return xerr.Wrap(xerr.PermanentIO, "StreamTickers not supported by spot adapter", nil)
}

func (c *Client) PlaceOrder(ctx context.Context, symbol string, side market.OrderSide, quantity float64) (market.OrderResult, error) {
	orderSide := gobinance.SideTypeBuy
	if side == market.Sell {
		orderSide = gobinance.SideTypeSell
	}
	resp, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide).
		Type(gobinance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return market.OrderResult{}, xerr.Wrap(xerr.TransientIO, "place order", err)
	}
	cumQuote, _ := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)
	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	price := 0.0
	if executedQty > 0 {
		price = cumQuote / executedQty
	}
	return market.OrderResult{
		Price:       price,
		ExecutedQty: executedQty,
		CumQuoteQty: cumQuote,
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
	}, nil
}

var (
	_ market.PriceSource = (*Client)(nil)
	_ market.OrderPlacer = (*Client)(nil)
)
