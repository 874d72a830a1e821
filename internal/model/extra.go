package model

import (
	"encoding/json"
	"fmt"
)

// Extra is the open attribute bag attached to a Message. Keys the bridge does not
// interpret are kept in Other and written back unchanged.
type Extra struct {
	Mentions []string
	Caption  string
	Format   string
	Preview  *bool

	// Native points at the platform message the canonical message was built from.
	// It never leaves the process.
	Native any

	Other map[string]json.RawMessage
}

// PreviewEnabled returns the link-preview toggle, disabled by default.
func (e Extra) PreviewEnabled() bool {
	return e.Preview != nil && *e.Preview
}

// MarshalJSON implements json.Marshaler.
func (e Extra) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Other)+4)
	for k, v := range e.Other {
		out[k] = v
	}
	if len(e.Mentions) > 0 {
		out["mentions"] = e.Mentions
	}
	if e.Caption != "" {
		out["caption"] = e.Caption
	}
	if e.Format != "" {
		out["format"] = e.Format
	}
	if e.Preview != nil {
		out["preview"] = *e.Preview
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Extra) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = Extra{}
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("extra: %w", err)
	}
	var out Extra
	for k, v := range raw {
		var err error
		switch k {
		case "mentions":
			err = json.Unmarshal(v, &out.Mentions)
		case "caption":
			err = json.Unmarshal(v, &out.Caption)
		case "format":
			err = json.Unmarshal(v, &out.Format)
		case "preview":
			var preview bool
			if err = json.Unmarshal(v, &preview); err == nil {
				out.Preview = &preview
			}
		default:
			if out.Other == nil {
				out.Other = make(map[string]json.RawMessage)
			}
			out.Other[k] = v
		}
		if err != nil {
			return fmt.Errorf("extra %q: %w", k, err)
		}
	}
	*e = out
	return nil
}
