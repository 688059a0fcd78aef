package indicators

import (
	"errors"
	"math"
	"testing"
)

func samplePrices() []float64 {
	prices := make([]float64, 60)
	p := 100.0
	for i := range prices {
		// deterministic zig-zag with drift
		switch i % 4 {
		case 0, 1:
			p += 0.7
		case 2:
			p -= 1.1
		default:
			p += 0.2
		}
		prices[i] = p
	}
	return prices
}

func TestEMA_LengthAndSeed(t *testing.T) {
	series := [][]float64{
		{42},
		{1, 2},
		samplePrices(),
	}
	for _, prices := range series {
		for _, period := range []int{1, 5, 21} {
			ema, err := EMA(prices, period)
			if err != nil {
				t.Fatalf("EMA returned error: %v", err)
			}
			if len(ema) != len(prices) {
				t.Errorf("Expected length %d, got %d", len(prices), len(ema))
			}
			if ema[0] != prices[0] {
				t.Errorf("Expected first value %v, got %v", prices[0], ema[0])
			}
		}
	}
}

func TestEMA_Recurrence(t *testing.T) {
	ema, err := EMA([]float64{10, 20, 30}, 3)
	if err != nil {
		t.Fatal(err)
	}
	// k = 0.5
	want := []float64{10, 15, 22.5}
	for i := range want {
		if math.Abs(ema[i]-want[i]) > 1e-12 {
			t.Errorf("EMA[%d]: expected %v, got %v", i, want[i], ema[i])
		}
	}
}

func TestEMA_Errors(t *testing.T) {
	if _, err := EMA(nil, 5); !errors.Is(err, ErrEmptySeries) {
		t.Errorf("Expected ErrEmptySeries, got %v", err)
	}
	if _, err := EMA([]float64{1}, 0); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("Expected ErrInvalidPeriod, got %v", err)
	}
}

func TestRSI_Bounds(t *testing.T) {
	rising := make([]float64, 30)
	falling := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(i + 1)
		falling[i] = float64(100 - i)
	}
	for name, prices := range map[string][]float64{
		"zigzag":  samplePrices(),
		"rising":  rising,
		"falling": falling,
	} {
		rsi, err := RSI(prices, 14)
		if err != nil {
			t.Fatalf("%s: RSI returned error: %v", name, err)
		}
		if len(rsi) != len(prices)-14 {
			t.Errorf("%s: expected %d values, got %d", name, len(prices)-14, len(rsi))
		}
		for i, v := range rsi {
			if v < 0 || v > 100 {
				t.Errorf("%s: RSI[%d]=%v out of [0,100]", name, i, v)
			}
		}
	}
}

func TestRSI_ZeroLossGuard(t *testing.T) {
	// gains of 1 per bar with no losses: avg loss is replaced by 1, so RS = 1.
	prices := []float64{1, 2, 3, 4, 5, 6}
	rsi, err := RSI(prices, 5)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(rsi[0]-50) > 1e-9 {
		t.Errorf("Expected guarded RSI of 50, got %v", rsi[0])
	}
}

func TestRSI_InsufficientData(t *testing.T) {
	if _, err := RSI([]float64{1, 2, 3}, 14); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Expected ErrInsufficientData, got %v", err)
	}
}

func TestMACD_HistogramIdentity(t *testing.T) {
	prices := samplePrices()
	m, err := MACD(prices, 12, 26, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.MACD) != len(prices) || len(m.Signal) != len(prices) || len(m.Histogram) != len(prices) {
		t.Fatalf("Expected all series of length %d", len(prices))
	}
	for i := range m.Histogram {
		if m.Histogram[i] != m.MACD[i]-m.Signal[i] {
			t.Errorf("Histogram[%d] = %v, expected %v", i, m.Histogram[i], m.MACD[i]-m.Signal[i])
		}
	}
}

func TestATR_NonNegative(t *testing.T) {
	closes := samplePrices()
	highs := make([]float64, len(closes))
	lows := make([]float64, len(closes))
	for i, c := range closes {
		highs[i] = c + 0.4
		lows[i] = c - 0.3
	}
	atr, err := ATR(highs, lows, closes, 14)
	if err != nil {
		t.Fatal(err)
	}
	if len(atr) != len(closes)-13 {
		t.Errorf("Expected %d values, got %d", len(closes)-13, len(atr))
	}
	for i, v := range atr {
		if v < 0 {
			t.Errorf("ATR[%d] negative: %v", i, v)
		}
	}
}

func TestTrueRange_FirstBar(t *testing.T) {
	tr, err := TrueRange([]float64{10, 12}, []float64{8, 11}, []float64{9, 11.5})
	if err != nil {
		t.Fatal(err)
	}
	if tr[0] != 2 {
		t.Errorf("Expected first true range 2, got %v", tr[0])
	}
	// max(1, |12-9|, |11-9|) = 3
	if tr[1] != 3 {
		t.Errorf("Expected second true range 3, got %v", tr[1])
	}
}

func TestBollingerBands(t *testing.T) {
	prices := samplePrices()
	bb, err := BollingerBands(prices, 20, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(bb.Middle) != len(prices)-19 {
		t.Fatalf("Expected %d values, got %d", len(prices)-19, len(bb.Middle))
	}

	last := prices[len(prices)-20:]
	mean := Mean(last)
	sd := StdDev(last)
	upper, middle, lower := bb.Last()
	if math.Abs(middle-mean) > 1e-6 {
		t.Errorf("Expected middle %v, got %v", mean, middle)
	}
	if math.Abs(upper-(mean+2*sd)) > 1e-6 {
		t.Errorf("Expected upper %v, got %v", mean+2*sd, upper)
	}
	if math.Abs(lower-(mean-2*sd)) > 1e-6 {
		t.Errorf("Expected lower %v, got %v", mean-2*sd, lower)
	}
}

func TestBollingerBands_FlatSeries(t *testing.T) {
	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = 1.25
	}
	bb, err := BollingerBands(prices, 20, 2)
	if err != nil {
		t.Fatal(err)
	}
	upper, middle, lower := bb.Last()
	if math.Abs(upper-middle) > 1e-6 || math.Abs(middle-lower) > 1e-6 {
		t.Errorf("Expected collapsed bands, got %v/%v/%v", upper, middle, lower)
	}
}

func TestMomentumAndVolumeStrength(t *testing.T) {
	mom, err := Momentum([]float64{100, 101, 102, 110}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mom-10) > 1e-9 {
		t.Errorf("Expected momentum 10%%, got %v", mom)
	}

	vs, err := VolumeStrength([]float64{100, 100, 100, 100, 250}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if vs != 2.5 {
		t.Errorf("Expected volume strength 2.5, got %v", vs)
	}
}

func TestIndicators_Idempotent(t *testing.T) {
	prices := samplePrices()
	highs := make([]float64, len(prices))
	lows := make([]float64, len(prices))
	for i, p := range prices {
		highs[i] = p + 0.5
		lows[i] = p - 0.5
	}

	e1, _ := EMA(prices, 9)
	e2, _ := EMA(prices, 9)
	r1, _ := RSI(prices, 14)
	r2, _ := RSI(prices, 14)
	m1, _ := MACD(prices, 12, 26, 9)
	m2, _ := MACD(prices, 12, 26, 9)
	a1, _ := ATR(highs, lows, prices, 14)
	a2, _ := ATR(highs, lows, prices, 14)
	b1, _ := BollingerBands(prices, 20, 2)
	b2, _ := BollingerBands(prices, 20, 2)

	pairs := []struct {
		name string
		a, b []float64
	}{
		{"ema", e1, e2},
		{"rsi", r1, r2},
		{"macd", m1.Histogram, m2.Histogram},
		{"atr", a1, a2},
		{"bollinger", b1.Upper, b2.Upper},
	}
	for _, p := range pairs {
		if len(p.a) != len(p.b) {
			t.Fatalf("%s: length mismatch", p.name)
		}
		for i := range p.a {
			if math.Float64bits(p.a[i]) != math.Float64bits(p.b[i]) {
				t.Errorf("%s[%d]: %v != %v", p.name, i, p.a[i], p.b[i])
			}
		}
	}
}
