package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// decodeJSONResult decodes a JSON value into generic Go values, with
// numbers parsed as exact decimals rather than float64s. Monetary amounts
// like "123.45000000" must survive the round trip without binary-float
// precision loss.
func decodeJSONResult(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// Reject trailing garbage, e.g. "123abc" is not a number.
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return convertNumbers(v), nil
}

func convertNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			// Shouldn't happen for a value the decoder accepted.
			return val.String()
		}
		return d
	case map[string]interface{}:
		for k, elem := range val {
			val[k] = convertNumbers(elem)
		}
		return val
	case []interface{}:
		for i, elem := range val {
			val[i] = convertNumbers(elem)
		}
		return val
	default:
		return v
	}
}

// decodeCLIOutput deserializes CLI stdout the same way RPC results are
// decoded; non-JSON output falls back to the raw text with trailing
// newlines trimmed.
func decodeCLIOutput(stdout string) interface{} {
	trimmed := strings.TrimRight(stdout, "\n")
	if trimmed == "" {
		return trimmed
	}
	v, err := decodeJSONResult(json.RawMessage(trimmed))
	if err != nil {
		return trimmed
	}
	return v
}
