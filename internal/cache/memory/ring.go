package memory

import "github.com/alanyoungcy/marketsync/internal/domain"

// tradeRing is a fixed-capacity FIFO of trades. Iteration is newest first.
type tradeRing struct {
	buf  []domain.Trade
	head int // next write position
	n    int
}

func newTradeRing(capacity int) *tradeRing {
	return &tradeRing{buf: make([]domain.Trade, capacity)}
}

func (r *tradeRing) push(t domain.Trade) {
	r.buf[r.head] = t
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *tradeRing) each(fn func(domain.Trade)) {
	for i := 1; i <= r.n; i++ {
		fn(r.buf[(r.head-i+len(r.buf))%len(r.buf)])
	}
}

func (r *tradeRing) len() int      { return r.n }
func (r *tradeRing) capacity() int { return len(r.buf) }
