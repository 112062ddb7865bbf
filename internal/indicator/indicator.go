// Package indicator computes a model.IndicatorSnapshot from a symbol's
// recent candles: moving averages, RSI, MACD, Bollinger Bands, volume ratio,
// support/resistance, and trend direction.
package indicator

import (
	"context"
	"fmt"
	"math"

	"github.com/koshedutech/candlewatch/internal/market"
	"github.com/koshedutech/candlewatch/internal/model"
)

// Periods tunes the lookback window for each indicator.
type Periods struct {
	RSI          int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	SMAShort     int
	SMALong      int
	EMAShort     int
	EMALong      int
	BollingerN   int
	BollingerDev float64
	VolumeN      int
	SupportN     int
	TrendFast    int
	TrendSlow    int
	CandleLimit  int
	Interval     string
}

func DefaultPeriods() Periods {
	return Periods{
		RSI: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
		SMAShort: 9, SMALong: 21, EMAShort: 9, EMALong: 21,
		BollingerN: 20, BollingerDev: 2.0, VolumeN: 20, SupportN: 20,
		TrendFast: 9, TrendSlow: 21, CandleLimit: 100, Interval: "1h",
	}
}

// Snapshot computes a fresh IndicatorSnapshot for symbol from its most recent
// candles. It implements scanner.IndicatorFunc.
func Snapshot(periods Periods) func(ctx context.Context, prices market.PriceSource, symbol string) (model.IndicatorSnapshot, error) {
	return func(ctx context.Context, prices market.PriceSource, symbol string) (model.IndicatorSnapshot, error) {
		candles, err := prices.GetCandles(ctx, symbol, periods.Interval, periods.CandleLimit)
		if err != nil {
			return model.IndicatorSnapshot{}, fmt.Errorf("get candles: %w", err)
		}
		if len(candles) == 0 {
			return model.IndicatorSnapshot{}, fmt.Errorf("no candles for %s", symbol)
		}
		return compute(symbol, candles, periods), nil
	}
}

func compute(symbol string, candles []market.Candle, p Periods) model.IndicatorSnapshot {
	closes := closesOf(candles)
	price := closes[len(closes)-1]

	rsi := calcRSI(closes, p.RSI)
	rsiSignal := "NEUTRAL"
	switch {
	case rsi <= 30:
		rsiSignal = "OVERSOLD"
	case rsi >= 70:
		rsiSignal = "OVERBOUGHT"
	}

	macdLine, signalLine, histogram := calcMACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	crossover := classifyCrossover(macdLine, signalLine, histogram)

	smaShort := calcSMA(closes, p.SMAShort)
	smaLong := calcSMA(closes, p.SMALong)
	ema9 := calcEMA(closes, p.EMAShort)
	ema21 := calcEMA(closes, p.EMALong)
	emaSignal := "NEUTRAL"
	if ema9 > ema21 {
		emaSignal = "BULLISH"
	} else if ema9 < ema21 {
		emaSignal = "BEARISH"
	}

	upper, middle, lower := calcBollinger(closes, p.BollingerN, p.BollingerDev)
	bbPosition := classifyBBPosition(price, upper, middle, lower)
	bbWidth := classifyBBWidth(upper, lower, middle)

	volumeRatio := calcVolumeRatio(candles, p.VolumeN)
	volumeTrend := "FLAT"
	switch {
	case volumeRatio >= 1.5:
		volumeTrend = "RISING"
	case volumeRatio <= 0.6:
		volumeTrend = "FALLING"
	}

	support, resistance := findSupportResistance(candles, p.SupportN)

	trend := detectTrend(closes, p.TrendFast, p.TrendSlow)

	return model.IndicatorSnapshot{
		Symbol:      symbol,
		Price:       price,
		RSIValue:    rsi,
		RSISignal:   rsiSignal,
		MACDValue:   macdLine,
		MACDSignal:  signalLine,
		Histogram:   histogram,
		Crossover:   crossover,
		SMAShort:    smaShort,
		SMALong:     smaLong,
		EMA9:        ema9,
		EMA21:       ema21,
		EMASignal:   emaSignal,
		BBUpper:     upper,
		BBMiddle:    middle,
		BBLower:     lower,
		BBPosition:  bbPosition,
		BBWidth:     bbWidth,
		VolumeRatio: volumeRatio,
		VolumeTrend: volumeTrend,
		Support:     []float64{support},
		Resistance:  []float64{resistance},
		Trend:       trend,
	}
}

func closesOf(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func calcSMA(closes []float64, period int) float64 {
	if len(closes) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(period)
}

func calcEMA(closes []float64, period int) float64 {
	if len(closes) < period || period <= 0 {
		return 0
	}
	ema := calcSMA(closes[:period], period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		ema = (closes[i] * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

func calcRSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}
	gains, losses := 0.0, 0.0
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// calcMACD returns the MACD line, an approximated signal line, and the
// histogram. The signal line is a fixed fraction of the MACD line rather
// than a maintained EMA-of-MACD series, since only the current snapshot (not
// a rolling MACD history) is available at this layer.
func calcMACD(closes []float64, fast, slow, signal int) (macd, signalLine, histogram float64) {
	if len(closes) < slow+signal {
		return 0, 0, 0
	}
	fastEMA := calcEMA(closes, fast)
	slowEMA := calcEMA(closes, slow)
	macd = fastEMA - slowEMA
	signalLine = macd * 0.8
	histogram = macd - signalLine
	return
}

func classifyCrossover(macd, signal, histogram float64) model.Crossover {
	switch {
	case macd > signal && histogram > 0:
		return model.CrossoverBullish
	case macd < signal && histogram < 0:
		return model.CrossoverBearish
	case macd > 0:
		return model.CrossoverBullishTrend
	case macd < 0:
		return model.CrossoverBearishTrend
	default:
		return model.CrossoverNeutral
	}
}

func calcBollinger(closes []float64, period int, devMultiplier float64) (upper, middle, lower float64) {
	if len(closes) < period || period <= 0 {
		return 0, 0, 0
	}
	middle = calcSMA(closes, period)
	variance := 0.0
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		diff := closes[i] - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))
	upper = middle + stdDev*devMultiplier
	lower = middle - stdDev*devMultiplier
	return
}

func classifyBBPosition(price, upper, middle, lower float64) model.BBPosition {
	switch {
	case upper == 0 && lower == 0:
		return model.BBMiddle
	case price >= upper:
		return model.BBUpper
	case price <= lower:
		return model.BBLower
	default:
		return model.BBMiddle
	}
}

func classifyBBWidth(upper, lower, middle float64) model.BBWidth {
	if middle == 0 {
		return model.BBNormal
	}
	width := (upper - lower) / middle
	switch {
	case width < 0.04:
		return model.BBNarrow
	case width > 0.12:
		return model.BBWide
	default:
		return model.BBNormal
	}
}

func calcVolumeRatio(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 1.0
	}
	window := candles[len(candles)-period-1 : len(candles)-1]
	sum := 0.0
	for _, c := range window {
		sum += c.Volume
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 1.0
	}
	return candles[len(candles)-1].Volume / avg
}

func findSupportResistance(candles []market.Candle, period int) (support, resistance float64) {
	if len(candles) < period || period <= 0 {
		period = len(candles)
	}
	start := len(candles) - period
	low := candles[start].Low
	high := candles[start].High
	for i := start; i < len(candles); i++ {
		if candles[i].Low < low {
			low = candles[i].Low
		}
		if candles[i].High > high {
			high = candles[i].High
		}
	}
	return low, high
}

func detectTrend(closes []float64, fast, slow int) model.Trend {
	if len(closes) < slow {
		return model.Trend{Direction: model.TrendSideways, Strength: 0}
	}
	fastEMA := calcEMA(closes, fast)
	slowEMA := calcEMA(closes, slow)
	if slowEMA == 0 {
		return model.Trend{Direction: model.TrendSideways, Strength: 0}
	}
	diffPercent := math.Abs(fastEMA-slowEMA) / slowEMA * 100
	if diffPercent < 0.5 {
		return model.Trend{Direction: model.TrendSideways, Strength: diffPercent}
	}
	if fastEMA > slowEMA {
		return model.Trend{Direction: model.TrendBullish, Strength: diffPercent}
	}
	return model.Trend{Direction: model.TrendBearish, Strength: diffPercent}
}
