package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	ts := time.Unix(1700000000, 42)
	price, got, ok, err := parsePrice(map[string]string{
		"price": "1600000000000000",
		"ts":    "1700000000000000042",
	})
	if err != nil || !ok {
		t.Fatalf("parsePrice: ok=%v err=%v", ok, err)
	}
	if !price.Equal(decimal.New(16, 14)) {
		t.Fatalf("price = %s", price)
	}
	if !got.Equal(ts) {
		t.Fatalf("ts = %v, want %v", got, ts)
	}

	if _, _, ok, err := parsePrice(map[string]string{}); ok || err != nil {
		t.Fatalf("empty hash: ok=%v err=%v", ok, err)
	}
	if _, _, _, err := parsePrice(map[string]string{"price": "abc"}); err == nil {
		t.Fatal("expected error for malformed price")
	}
}

func TestPriceKeyNormalizesToken(t *testing.T) {
	if got := priceKey(" 0xABCdef "); got != "price:0xabcdef" {
		t.Fatalf("priceKey = %q", got)
	}
}

func TestIsGlob(t *testing.T) {
	cases := map[string]bool{
		"positions":   false,
		"positions.*": true,
		"cand?dates":  true,
		"stream:exit": false,
	}
	for ch, want := range cases {
		if got := isGlob(ch); got != want {
			t.Errorf("isGlob(%q) = %v, want %v", ch, got, want)
		}
	}
}

func TestStreamMessages(t *testing.T) {
	got := streamMessages([]redis.XStream{{
		Stream: "stream:exits",
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]any{"payload": "x"}},
			{ID: "2-0", Values: map[string]any{"payload": []byte("y")}},
			{ID: "3-0", Values: map[string]any{"payload": 7}},
			{ID: "4-0", Values: map[string]any{"other": "z"}},
		},
	}})
	if len(got) != 2 || got[0].ID != "1-0" || string(got[0].Payload) != "x" || string(got[1].Payload) != "y" {
		t.Fatalf("streamMessages = %+v", got)
	}
}
