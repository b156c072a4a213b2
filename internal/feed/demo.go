package feed

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"go-signal/internal/model"
)

// DemoSource produces a synthetic random walk per symbol so the daemon can
// run without exchange access. Successive calls continue the same walk.
type DemoSource struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	step   map[string]int
	now    func() time.Time
}

// NewDemoSource creates a demo source. The same seed yields the same walk.
func NewDemoSource(seed int64) *DemoSource {
	return &DemoSource{
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
		step:   make(map[string]int),
		now:    time.Now,
	}
}

// Candles implements CandleSource.
func (d *DemoSource) Candles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	width, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	price, ok := d.prices[symbol]
	if !ok {
		price = seedPrice(symbol)
	}
	// Wider candles move more.
	scale := 0.004 * math.Sqrt(width.Minutes()/5)
	end := d.now().Truncate(width)
	phase := float64(d.step[symbol])

	out := make([]model.Candle, limit)
	for i := 0; i < limit; i++ {
		open := price
		wave := math.Sin((phase+float64(i))/20.0) * scale * 0.5
		move := (d.rng.Float64()-0.5)*scale*2 + wave
		price = math.Max(open*(1+move), 1e-9)
		high := math.Max(open, price) * (1 + d.rng.Float64()*scale)
		low := math.Min(open, price) * (1 - d.rng.Float64()*scale)
		out[i] = model.Candle{
			Time:   end.Add(-time.Duration(limit-1-i) * width),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: 1000 + d.rng.Float64()*9000,
		}
	}

	// Continue from a point a few candles into this series so consecutive
	// cycles overlap like a real feed.
	next := out[len(out)-1].Close
	if limit > 3 {
		next = out[3].Close
	}
	d.prices[symbol] = next
	d.step[symbol] += 3
	return out, nil
}

func seedPrice(symbol string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return 0.05 + float64(h.Sum32()%1000)/100
}
