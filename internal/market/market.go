// Package market defines the price/order contracts the engine consumes from
// the exchange: a PriceSource for reads and an OrderPlacer for fills.
package market

import "context"

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// PriceSource is consumed by the Scanner (via indicator computation, out of
// the engine's scope) and by the Executor to read the current fill price.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetAllPrices(ctx context.Context) (map[string]float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	// StreamTickers is optional: implementations that can't stream may
	// return xerr.PermanentIO immediately.
	StreamTickers(ctx context.Context, symbols []string, callback func(symbol string, price float64)) error
}

// OrderResult is the fill the Executor reads back after placing an order.
type OrderResult struct {
	Price        float64
	ExecutedQty  float64
	CumQuoteQty  float64
	OrderID      string
}

// OrderSide mirrors model.TradeSide but keeps this package import-free of model.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderPlacer is consumed by the Executor. Paper-mode implementations return
// a simulated fill at the current price with OrderID prefixed "PAPER_".
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity float64) (OrderResult, error)
}
