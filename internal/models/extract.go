package models

import "strconv"

// Boundary helpers for loosely-shaped exchange payloads. Everything past this
// point in the pipeline works on the typed records in this package.

// AsFloat coerces a decoded JSON value to float64.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// AsInt coerces a decoded JSON value to int.
func AsInt(v any) (int, bool) {
	f, ok := AsFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// AsString coerces a decoded JSON value to a non-empty string.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ExtractOrderID finds an order id in a create/status response. Accepts
// {order_id}, {id}, and the same keys nested under "order".
func ExtractOrderID(payload map[string]any) (string, bool) {
	for _, key := range []string{"order_id", "id"} {
		if s, ok := AsString(payload[key]); ok {
			return s, true
		}
	}
	if nested, ok := payload["order"].(map[string]any); ok {
		for _, key := range []string{"order_id", "id"} {
			if s, ok := AsString(nested[key]); ok {
				return s, true
			}
		}
	}
	return "", false
}

// ExtractOrderStatus finds a status string in an order payload. Accepts
// {status}, {order_status}, and the same keys nested under "order".
func ExtractOrderStatus(payload map[string]any) (string, bool) {
	for _, key := range []string{"status", "order_status"} {
		if s, ok := AsString(payload[key]); ok {
			return s, true
		}
	}
	if nested, ok := payload["order"].(map[string]any); ok {
		for _, key := range []string{"status", "order_status"} {
			if s, ok := AsString(nested[key]); ok {
				return s, true
			}
		}
	}
	return "", false
}

// ExtractQueuePosition finds a queue position for one order inside a
// queue-positions payload. The exchange keys entries by order id, and some
// responses key by ticker instead, so all provided keys are tried in order.
func ExtractQueuePosition(payload map[string]any, keys ...string) (int, bool) {
	positions := payload
	if nested, ok := payload["queue_positions"].(map[string]any); ok {
		positions = nested
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		entry, ok := positions[key]
		if !ok {
			continue
		}
		switch x := entry.(type) {
		case map[string]any:
			if n, ok := AsInt(x["queue_position"]); ok {
				return n, true
			}
			if n, ok := AsInt(x["position"]); ok {
				return n, true
			}
		default:
			if n, ok := AsInt(entry); ok {
				return n, true
			}
		}
	}
	// Some responses return a flat list of {order_id, queue_position} rows.
	if list, ok := payload["queue_positions"].([]any); ok {
		for _, item := range list {
			row, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := AsString(row["order_id"])
			for _, key := range keys {
				if key != "" && id == key {
					if n, ok := AsInt(row["queue_position"]); ok {
						return n, true
					}
				}
			}
		}
	}
	return 0, false
}
