package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// City is one place in the list. Only ID is structured; every other field
// the client sends is kept verbatim in Attributes.
type City struct {
	ID         int64          `json:"id"`
	Index      string         `json:"index,omitempty"` // storage key in the remote document store
	Attributes map[string]any `json:"-"`
}

// IsZero reports whether c is the empty city ({} in the client state).
func (c City) IsZero() bool {
	return c.ID == 0 && c.Index == "" && len(c.Attributes) == 0
}

// Get returns an attribute by key.
func (c City) Get(key string) (any, bool) {
	v, ok := c.Attributes[key]
	return v, ok
}

// Name is a convenience accessor for the "name" or "cityName" attribute.
func (c City) Name() string {
	for _, k := range []string{"name", "cityName"} {
		if s, ok := c.Attributes[k].(string); ok {
			return s
		}
	}
	return ""
}

// Clone returns a copy whose attribute map can be mutated independently.
func (c City) Clone() City {
	out := City{ID: c.ID, Index: c.Index}
	if c.Attributes != nil {
		out.Attributes = make(map[string]any, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// WithoutIndex strips the remote storage key, which never belongs in the file
// or database representation.
func (c City) WithoutIndex() City {
	out := c.Clone()
	out.Index = ""
	return out
}

// EnsureID assigns a millisecond timestamp id when none was supplied.
func (c *City) EnsureID(now time.Time) bool {
	if c.ID != 0 {
		return false
	}
	c.ID = now.UnixMilli()
	return true
}

// MarshalJSON flattens the city into a single object with id first.
func (c City) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(c.Attributes))
	for k := range c.Attributes {
		if k == "id" || k == "index" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(`{"id":`)
	buf.WriteString(strconv.FormatInt(c.ID, 10))
	if c.Index != "" {
		buf.WriteString(`,"index":`)
		idx, _ := json.Marshal(c.Index)
		buf.Write(idx)
	}
	for _, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(c.Attributes[k])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts any JSON object. "id" must be an integral number when
// present; "index" is taken as a string or number. Anything other than an
// object or null is ErrInvalidCity.
func (c *City) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCity, err)
	}
	if raw == nil {
		// null is a no-op, like encoding/json does for plain values
		return nil
	}

	*c = City{}
	if v, ok := raw["id"]; ok {
		id, err := parseID(v)
		if err != nil {
			return err
		}
		c.ID = id
		delete(raw, "id")
	}
	if v, ok := raw["index"]; ok {
		switch idx := v.(type) {
		case string:
			c.Index = idx
		case json.Number:
			c.Index = idx.String()
		}
		delete(raw, "index")
	}
	if len(raw) > 0 {
		c.Attributes = raw
	}
	return nil
}

func parseID(v any) (int64, error) {
	switch id := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return n, nil
		}
		f, err := id.Float64()
		if err != nil || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return 0, fmt.Errorf("%w: id %q is not an integer", ErrInvalidCity, id.String())
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("%w: id must be a number, got %T", ErrInvalidCity, v)
	}
}

// ParseCityID parses a path parameter the way the list endpoints expect.
// ok is false when the value is not an integer.
func ParseCityID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
