package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractOrderID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload map[string]any
		want    string
		ok      bool
	}{
		{"top_level_order_id", map[string]any{"order_id": "abc"}, "abc", true},
		{"top_level_id", map[string]any{"id": "xyz"}, "xyz", true},
		{"nested_order_id", map[string]any{"order": map[string]any{"order_id": "n1"}}, "n1", true},
		{"nested_id", map[string]any{"order": map[string]any{"id": "n2"}}, "n2", true},
		{"prefers_top_level", map[string]any{"order_id": "top", "order": map[string]any{"id": "nested"}}, "top", true},
		{"missing", map[string]any{"foo": "bar"}, "", false},
		{"empty_string", map[string]any{"order_id": ""}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractOrderID(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractOrderStatus(t *testing.T) {
	t.Parallel()

	got, ok := ExtractOrderStatus(map[string]any{"order_status": "resting"})
	assert.True(t, ok)
	assert.Equal(t, "resting", got)

	got, ok = ExtractOrderStatus(map[string]any{"order": map[string]any{"status": "filled"}})
	assert.True(t, ok)
	assert.Equal(t, "filled", got)

	_, ok = ExtractOrderStatus(map[string]any{})
	assert.False(t, ok)
}

func TestExtractQueuePosition(t *testing.T) {
	t.Parallel()

	// Keyed by order id under queue_positions.
	payload := map[string]any{
		"queue_positions": map[string]any{
			"ord-1": map[string]any{"queue_position": float64(7)},
		},
	}
	pos, ok := ExtractQueuePosition(payload, "ord-1")
	assert.True(t, ok)
	assert.Equal(t, 7, pos)

	// Fall back to ticker key when the order id is absent.
	payload = map[string]any{
		"queue_positions": map[string]any{
			"KXHIGHNY-26AUG24-B85": float64(3),
		},
	}
	pos, ok = ExtractQueuePosition(payload, "ord-2", "KXHIGHNY-26AUG24-B85")
	assert.True(t, ok)
	assert.Equal(t, 3, pos)

	// Flat list form.
	payload = map[string]any{
		"queue_positions": []any{
			map[string]any{"order_id": "ord-3", "queue_position": float64(11)},
		},
	}
	pos, ok = ExtractQueuePosition(payload, "ord-3")
	assert.True(t, ok)
	assert.Equal(t, 11, pos)

	_, ok = ExtractQueuePosition(map[string]any{}, "ord-4")
	assert.False(t, ok)
}

func TestIsTerminalOrderStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTerminalOrderStatus(OrderStatusSimulated))
	assert.True(t, IsTerminalOrderStatus(OrderStatusFilled))
	assert.True(t, IsTerminalOrderStatus(OrderStatusCanceled))
	assert.True(t, IsTerminalOrderStatus(OrderStatusFailed))
	assert.False(t, IsTerminalOrderStatus(OrderStatusSubmitted))
	assert.False(t, IsTerminalOrderStatus(OrderStatusPartiallyFilled))
}
