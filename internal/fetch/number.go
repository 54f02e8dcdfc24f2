package fetch

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/jpalmerr/storefinder/internal/inventory"
)

// flexInt decodes a JSON number, a numeric string or anything else (as 0).
// Fractions are truncated, strings use the inventory parser.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*f = 0
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = 0
			return nil
		}
		*f = flexInt(inventory.ParseInt(s))
	default:
		v, err := strconv.ParseFloat(string(data), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			*f = 0
			return nil
		}
		*f = flexInt(math.Trunc(v))
	}
	return nil
}
