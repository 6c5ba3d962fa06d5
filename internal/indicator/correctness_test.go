package indicator

import (
	"math"
	"testing"

	"signal-engine/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close,
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Hand-calculated SMA(3) for a known price series:
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102.0000
	// SMA after candle 4: (102+104+103)/3 = 103.0000
	// SMA after candle 5: (104+103+105)/3 = 104.0000

	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
	if sma.Name() != "close_3_sma" {
		t.Errorf("Name() = %s", sma.Name())
	}
}

func TestSMA_Correctness_Period2(t *testing.T) {
	// The 2-period SMA is the reference baseline of the average scorers.
	sma := NewSMA(2)
	prices := []float64{10, 11, 15, 13}
	expected := []float64{0, 10.5, 13, 14}
	for i, p := range prices {
		sma.Update(candle(p))
		if i > 0 {
			assertClose(t, "SMA(2)", sma.Value(), expected[i], 0.0001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103, 105
	//
	// Candle 3: sum=306 → initial EMA = 306/3 = 102.0 (SMA seed)
	// Candle 4: EMA = 103*0.5 + 102.0*0.5 = 102.5
	// Candle 5: EMA = 105*0.5 + 102.5*0.5 = 103.75

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(candle(p))
		if ema.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Correctness_Period5(t *testing.T) {
	// EMA(5): multiplier = 2/(5+1) = 1/3
	// Seed = (44+44.25+44.50+43.75+44.50)/5 = 44.20
	mult := 2.0 / 6.0
	prices := []float64{44, 44.25, 44.50, 43.75, 44.50, 44.25, 44.00}
	seedExpected := (44.0 + 44.25 + 44.50 + 43.75 + 44.50) / 5.0

	ema := NewEMA(5)
	for _, p := range prices[:5] {
		ema.Update(candle(p))
	}
	assertClose(t, "EMA(5) seed", ema.Value(), seedExpected, 0.0001)

	ema.Update(candle(prices[5]))
	expected6 := 44.25*mult + seedExpected*(1-mult)
	assertClose(t, "EMA(5) candle 6", ema.Value(), expected6, 0.0001)

	ema.Update(candle(prices[6]))
	expected7 := 44.00*mult + expected6*(1-mult)
	assertClose(t, "EMA(5) candle 7", ema.Value(), expected7, 0.0001)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// First RSI (after 6 candles, period=5):
	//   avgGain = (0.34+0.72+0.50)/5 = 0.312
	//   avgLoss = (0.25+0.48)/5      = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.122
	// Candle 7 (45.10): avgGain 0.3036, avgLoss 0.1168 → 72.217
	// Candle 8 (45.42): avgGain 0.30688, avgLoss 0.09344 → 76.659
	// Candle 9 (45.84): avgGain 0.329504, avgLoss 0.074752 → 81.509

	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(candle(prices[i]))
		if i < 5 && rsi.Ready() {
			t.Fatalf("RSI(5) ready too early at candle %d", i+1)
		}
	}
	assertClose(t, "RSI(5) candle 6", rsi.Value(), 68.122, 0.01)

	rsi.Update(candle(prices[6]))
	assertClose(t, "RSI(5) candle 7", rsi.Value(), 72.217, 0.01)

	rsi.Update(candle(prices[7]))
	assertClose(t, "RSI(5) candle 8", rsi.Value(), 76.659, 0.01)

	rsi.Update(candle(prices[8]))
	assertClose(t, "RSI(5) candle 9", rsi.Value(), 81.509, 0.01)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100 + float64(i)))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100.0, 0.001)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(200 - float64(i)))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

// ────────────────────────────────────────────────────────────
// MACD Correctness
// ────────────────────────────────────────────────────────────

func TestMACD_Correctness_Small(t *testing.T) {
	// MACD(2,3,2) over 1, 2, 3, 5, 4
	//
	// fast EMA(2), mult 2/3: c2 seed 1.5, c3 2.5, c4 4.1667, c5 4.0556
	// slow EMA(3), mult 1/2: c3 seed 2.0, c4 3.5, c5 3.75
	// line: c3 0.5, c4 0.6667, c5 0.30556
	// signal EMA(2) over line: c4 seed 0.58333, c5 0.39815
	// histogram: c4 0.08333, c5 -0.09259
	m := NewMACD(2, 3, 2)
	prices := []float64{1, 2, 3, 5, 4}
	ready := []bool{false, false, false, true, true}
	expected := []float64{0, 0, 0, 0.08333, -0.09259}

	for i, p := range prices {
		m.Update(candle(p))
		if m.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i+1, m.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "MACD hist", m.Value(), expected[i], 0.0001)
		}
	}
	assertClose(t, "MACD line", m.Line(), 0.30556, 0.0001)
	assertClose(t, "MACD signal", m.Signal(), 0.39815, 0.0001)
}

func TestMACD_DefaultReadiness(t *testing.T) {
	m := NewMACD(MACDFast, MACDSlow, MACDSignal)
	n := 0
	for !m.Ready() {
		n++
		m.Update(candle(100 + float64(n%7)))
		if n > 100 {
			t.Fatal("MACD never became ready")
		}
	}
	if n != MACDSlow+MACDSignal-1 {
		t.Errorf("MACD ready after %d candles, want %d", n, MACDSlow+MACDSignal-1)
	}
}

// ────────────────────────────────────────────────────────────
// Cross-indicator: same data → correct ordering
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	sma5 := NewSMA(5)
	sma20 := NewSMA(20)
	ema5 := NewEMA(5)
	macd := NewMACD(MACDFast, MACDSlow, MACDSignal)

	for i := 0; i < 60; i++ {
		c := candle(100 + float64(i)) // steadily rising
		sma5.Update(c)
		sma20.Update(c)
		ema5.Update(c)
		macd.Update(c)
	}

	if sma5.Value() <= sma20.Value() {
		t.Errorf("SMA(5) should be > SMA(20) in uptrend: SMA5=%.2f, SMA20=%.2f", sma5.Value(), sma20.Value())
	}
	if ema5.Value() <= sma20.Value() {
		t.Errorf("EMA(5) should be > SMA(20) in uptrend: EMA5=%.2f, SMA20=%.2f", ema5.Value(), sma20.Value())
	}
	if macd.Line() <= 0 {
		t.Errorf("MACD line should be positive in uptrend, got %.4f", macd.Line())
	}
}

func TestIndicators_TrendingDown_Ordering(t *testing.T) {
	sma5 := NewSMA(5)
	sma20 := NewSMA(20)

	for i := 0; i < 30; i++ {
		c := candle(200 - float64(i)) // steadily falling
		sma5.Update(c)
		sma20.Update(c)
	}

	if sma5.Value() >= sma20.Value() {
		t.Errorf("SMA(5) should be < SMA(20) in downtrend: SMA5=%.2f, SMA20=%.2f", sma5.Value(), sma20.Value())
	}
}
