package feeds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotMsg(ticker string, seq int, yes, no []any) map[string]any {
	return map[string]any{
		"type": "orderbook_snapshot",
		"msg": map[string]any{
			"market_ticker": ticker,
			"seq":           float64(seq),
			"yes":           yes,
			"no":            no,
		},
	}
}

func deltaMsg(ticker string, seq, price, delta int, side string) map[string]any {
	return map[string]any{
		"type": "orderbook_delta",
		"msg": map[string]any{
			"market_ticker": ticker,
			"seq":           float64(seq),
			"price":         float64(price),
			"delta":         float64(delta),
			"side":          side,
		},
	}
}

func TestSnapshotSeedsBothSides(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(snapshotMsg("MKT-1", 5,
		[]any{[]any{float64(40), float64(100)}},
		[]any{[]any{float64(55), float64(30)}},
	))

	b, ok := f.Book("MKT-1")
	require.True(t, ok)
	assert.Equal(t, 100, b.Yes[40])
	assert.Equal(t, 30, b.No[55])
	assert.Equal(t, int64(5), b.Seq)

	ask, ok := b.BestYesAsk()
	require.True(t, ok)
	assert.Equal(t, 45, ask)
}

func TestDeltaAppliesInOrder(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(snapshotMsg("MKT-1", 1, []any{[]any{float64(40), float64(100)}}, nil))
	f.handleMessage(deltaMsg("MKT-1", 2, 40, 50, "yes"))

	b, _ := f.Book("MKT-1")
	assert.Equal(t, 150, b.Yes[40])
	assert.Equal(t, int64(2), b.Seq)
}

func TestStaleDeltaIgnored(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(snapshotMsg("MKT-1", 10, []any{[]any{float64(40), float64(100)}}, nil))
	f.handleMessage(deltaMsg("MKT-1", 9, 40, 999, "yes"))  // older seq
	f.handleMessage(deltaMsg("MKT-1", 10, 40, 999, "yes")) // equal seq

	b, _ := f.Book("MKT-1")
	assert.Equal(t, 100, b.Yes[40])
}

func TestStaleSnapshotIgnored(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(snapshotMsg("MKT-1", 10, []any{[]any{float64(40), float64(100)}}, nil))
	f.handleMessage(snapshotMsg("MKT-1", 3, []any{[]any{float64(10), float64(1)}}, nil))

	b, _ := f.Book("MKT-1")
	assert.Equal(t, 100, b.Yes[40])
	assert.Equal(t, int64(10), b.Seq)
}

func TestNewerSnapshotOverwrites(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(snapshotMsg("MKT-1", 1, []any{[]any{float64(40), float64(100)}}, nil))
	f.handleMessage(snapshotMsg("MKT-1", 2,
		[]any{[]any{float64(42), float64(10)}},
		[]any{[]any{float64(50), float64(20)}},
	))

	b, _ := f.Book("MKT-1")
	_, hadOld := b.Yes[40]
	assert.False(t, hadOld, "older levels must be gone after snapshot overwrite")
	assert.Equal(t, 10, b.Yes[42])
	assert.Equal(t, 20, b.No[50])
}

func TestDeltaBeforeSnapshotDropped(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(deltaMsg("MKT-1", 1, 40, 100, "yes"))
	_, ok := f.Book("MKT-1")
	assert.False(t, ok)
}

func TestDeltaAbsoluteQuantity(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(snapshotMsg("MKT-1", 1, []any{[]any{float64(40), float64(100)}}, nil))
	f.handleMessage(map[string]any{
		"type": "orderbook_delta",
		"msg": map[string]any{
			"market_ticker": "MKT-1",
			"seq":           float64(2),
			"price":         float64(40),
			"quantity":      float64(7),
			"side":          "yes",
		},
	})

	b, _ := f.Book("MKT-1")
	assert.Equal(t, 7, b.Yes[40])
}

func TestZeroQuantityRemovesLevel(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(snapshotMsg("MKT-1", 1, []any{[]any{float64(40), float64(100)}}, nil))
	f.handleMessage(deltaMsg("MKT-1", 2, 40, -100, "yes"))

	b, _ := f.Book("MKT-1")
	_, exists := b.Yes[40]
	assert.False(t, exists)
}

func TestLifecycleForwarded(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(map[string]any{
		"type": "market_lifecycle",
		"msg": map[string]any{
			"market_ticker": "KXBTC15M-NEW",
			"event_type":    "created",
		},
	})

	select {
	case ev := <-f.Lifecycle():
		assert.Equal(t, "KXBTC15M-NEW", ev.MarketTicker)
		assert.Equal(t, "created", ev.EventType)
	default:
		t.Fatal("expected a lifecycle event")
	}
}

func TestTickerQuoteStored(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(map[string]any{
		"type": "ticker",
		"msg": map[string]any{
			"market_ticker": "MKT-1",
			"yes_bid":       float64(44),
			"yes_ask":       float64(47),
		},
	})

	q, ok := f.TickerQuote("MKT-1")
	require.True(t, ok)
	assert.Equal(t, 44, q.YesBid)
	assert.Equal(t, 47, q.YesAsk)
}

func TestUnknownTypeIgnored(t *testing.T) {
	t.Parallel()
	f := NewKalshiBookFeed("wss://example.invalid", nil)

	f.handleMessage(map[string]any{"type": "subscribed", "msg": map[string]any{"market_ticker": "X"}})
	assert.Empty(t, f.BookTickers())
}

func TestMessageTypeJoinsDiscriminators(t *testing.T) {
	t.Parallel()

	typ := messageType(map[string]any{"channel": "orderbook_delta"})
	assert.Contains(t, typ, "delta")

	typ = messageType(map[string]any{"msg_type": "Snapshot"})
	assert.Contains(t, typ, "snapshot")
}
