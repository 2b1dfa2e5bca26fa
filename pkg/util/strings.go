package util

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tool arguments arrive as decoded JSON, so numbers are float64 and anything
// may turn up as a string. These helpers coerce loosely and fail loudly.

// GetAsString converts primitive values to their string form
func GetAsString(s any) (string, error) {
	switch v := s.(type) {
	case nil:
		return "", fmt.Errorf("cannot convert nil to string")
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// GetAsInteger converts whole numbers and numeric strings to int
func GetAsInteger(s any) (int, error) {
	switch v := s.(type) {
	case nil:
		return 0, fmt.Errorf("cannot convert nil to integer")
	case int:
		return v, nil
	case int64:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return 0, fmt.Errorf("int64 value %d is out of int range", v)
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("float64 value %f is not a whole number", v)
		}
		return int(v), nil
	case json.Number:
		return GetAsInteger(v.String())
	case string:
		result, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("cannot convert string '%s' to integer: %w", v, err)
		}
		return result, nil
	default:
		return 0, fmt.Errorf("cannot convert type %T to integer", s)
	}
}

// GetAsFloat converts numbers and numeric strings to float64
func GetAsFloat(s any) (float64, error) {
	switch v := s.(type) {
	case nil:
		return 0, fmt.Errorf("cannot convert nil to float")
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		result, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string '%s' to float: %w", v, err)
		}
		return result, nil
	default:
		return 0, fmt.Errorf("cannot convert type %T to float", s)
	}
}

// GetAsBool accepts booleans and the usual string spellings
func GetAsBool(s any) (bool, error) {
	switch v := s.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		result, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("cannot convert string '%s' to bool: %w", v, err)
		}
		return result, nil
	default:
		return false, fmt.Errorf("cannot convert type %T to bool", s)
	}
}
