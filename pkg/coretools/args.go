package coretools

import (
	"encoding/json"
	"fmt"
	"math"
)

func stringArg(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}

func intArg(params map[string]interface{}, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, raw)
	}
}

func boolArg(params map[string]interface{}, key string) bool {
	v, _ := params[key].(bool)
	return v
}
