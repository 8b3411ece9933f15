package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Raw document types for the upstream cruise JSON files. The feed is
// loosely typed: numbers arrive as numbers or numeric strings, and several
// metadata fields arrive as either a structured object or a bare scalar
// depending on the exporting system's version. Every optional field is a
// pointer so absence stays distinguishable from zero.

// rawDocument is the top-level shape of one sailing file.
type rawDocument struct {
	SailingID *flexInt `json:"codetocruiseid"`
	LineID    *flexInt `json:"lineid"`
	ShipID    *flexInt `json:"shipid"`

	Name     *string  `json:"name"`
	SailDate *string  `json:"saildate"`
	Nights   *flexInt `json:"nights"`

	// Metadata blocks subject to the scalar-vs-object anomaly.
	LineContent *flexContent `json:"linecontent"`
	ShipContent *flexContent `json:"shipcontent"`

	// Nested pricing: rate code -> cabin code -> occupancy code -> cell.
	Prices map[string]map[string]map[string]rawPriceCell `json:"prices"`

	// Optional cheapest-price rollups pre-computed by the source. These are
	// not authoritative for all cabin categories and may be absent.
	Cheapest *rawCheapest `json:"cheapest"`
}

// rawPriceCell is one leaf of the pricing grid.
type rawPriceCell struct {
	Price     *flexFloat `json:"price"`
	Taxes     *flexFloat `json:"taxes"`
	Fees      *flexFloat `json:"ncf"`
	Gratuity  *flexFloat `json:"gratuity"`
	CabinType *string    `json:"cabintype"`
	Available *flexBool  `json:"available"`
}

// rawCheapest carries the source's own per-category minimums.
type rawCheapest struct {
	Inside   *flexFloat `json:"inside"`
	Outside  *flexFloat `json:"outside"`
	Balcony  *flexFloat `json:"balcony"`
	Suite    *flexFloat `json:"suite"`
	Cheapest *flexFloat `json:"cheapest"`
}

// flexContent decodes a metadata field that is sometimes a structured
// object and sometimes a bare scalar. The decode explicitly tries the
// object shape first, then falls back to wrapping the scalar, rather than
// inspecting types at runtime.
type flexContent struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (c *flexContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if trimmed[0] == '{' {
		type plain flexContent
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return fmt.Errorf("linecontent/shipcontent object: %w", err)
		}
		*c = flexContent(p)
		return nil
	}

	// Scalar fallback: a bare string or number is treated as the name.
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		c.Name = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		c.Name = n.String()
		return nil
	}
	// Any other shape (arrays, booleans) is skipped, not fatal.
	return nil
}

// flexFloat decodes a number that may arrive as a JSON number, a numeric
// string, or an empty string (treated as absent via the outer pointer).
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("numeric string %q: %w", s, err)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt decodes an integer that may arrive as a number or numeric string.
type flexInt int

func (i *flexInt) UnmarshalJSON(data []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	*i = flexInt(int(f))
	return nil
}

// flexBool decodes a boolean that may arrive as a bool, "Y"/"N", "true"/
// "false", or 0/1.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch {
	case bytes.Equal(trimmed, []byte("true")):
		*b = true
	case bytes.Equal(trimmed, []byte("false")):
		*b = false
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "y", "yes", "true", "1":
			*b = true
		default:
			*b = false
		}
	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
		*b = n != 0
	}
	return nil
}
