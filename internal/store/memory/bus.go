package memory

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

const subscriberBuffer = 64

// Bus implements domain.SignalBus inside one process. Slow subscribers
// drop messages rather than block publishers. Channel patterns use the
// same glob syntax as Redis PSUBSCRIBE for the common cases.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	nextSub int
	streams map[string][]domain.StreamMessage
	seq     uint64
	maxLen  int
}

type subscriber struct {
	pattern string
	ch      chan []byte
}

// NewBus creates a Bus whose streams keep at most maxLen entries.
func NewBus(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = 10_000
	}
	return &Bus{
		subs:    make(map[int]subscriber),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe delivers messages until ctx is cancelled, then closes the channel.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %q: %w", channel, err)
	}
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscriber{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatUint(b.seq, 10)
	s := append(b.streams[stream], domain.StreamMessage{ID: id, Payload: append([]byte(nil), payload...)})
	if over := len(s) - b.maxLen; over > 0 {
		s = append([]domain.StreamMessage(nil), s[over:]...)
	}
	b.streams[stream] = s
	return nil
}

// StreamRead returns up to count entries after lastID. "0" or "" reads from
// the start.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.streams[stream]
	start := 0
	if lastID != "" && lastID != "0" {
		start = len(s)
		for i, m := range s {
			if m.ID == lastID {
				start = i + 1
				break
			}
		}
	}
	out := append([]domain.StreamMessage(nil), s[start:]...)
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

// PriceCache implements domain.PriceCache without expiry.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice
}

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]cachedPrice)}
}

func (c *PriceCache) SetPrice(_ context.Context, tokenID string, price decimal.Decimal, ts time.Time) error {
	c.mu.Lock()
	c.prices[domain.NormalizeToken(tokenID)] = cachedPrice{price: price, at: ts}
	c.mu.Unlock()
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, tokenID string) (decimal.Decimal, time.Time, error) {
	token := domain.NormalizeToken(tokenID)
	c.mu.RLock()
	p, ok := c.prices[token]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("memory: price %s: %w", token, domain.ErrNotFound)
	}
	return p.price, p.at, nil
}

func (c *PriceCache) GetPrices(_ context.Context, tokenIDs []string) (map[string]decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(tokenIDs))
	for _, t := range tokenIDs {
		if p, ok := c.prices[domain.NormalizeToken(t)]; ok {
			out[t] = p.price
		}
	}
	return out, nil
}

var (
	_ domain.SignalBus  = (*Bus)(nil)
	_ domain.PriceCache = (*PriceCache)(nil)
)
