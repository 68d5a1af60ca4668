package cite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Cite is a reference to content as reported by the expose agent. On the
// wire it is either a plain path string or an object carrying one of the
// chan, group or desk descriptors.
type Cite struct {
	// Path is set when the citation arrived as a plain string.
	Path string

	Chan  *ChanCite
	Group *GroupCite
	Desk  *DeskCite

	isPath bool
	raw    json.RawMessage
}

// ChanCite references a single item inside a channel.
//
// Wire form: {"nest": ["chat", ["~zod", "general"]], "wer": ["msg", "170"]}
type ChanCite struct {
	Kind string
	Ship string
	Name string
	Wer  []string
}

// GroupCite references a whole group. Wire form: ["~zod", "my-group"].
type GroupCite struct {
	Ship string
	Name string
}

// DeskCite references a path inside an application desk.
//
// Wire form: {"flag": ["~zod", "landscape"], "wer": ["some", "path"]}
type DeskCite struct {
	Ship string
	Desk string
	Wer  []string
}

// FromPath wraps a path string as a Cite.
func FromPath(p string) Cite {
	return Cite{Path: p, isPath: true}
}

// Format renders c as a path string.
//
// A string citation is returned as is. A chan citation becomes
// /1/chan/<kind>/~<ship>/<name>/<wer...>; the "~" is only added when the ship
// does not already carry it. Anything else is rendered as compact JSON, which
// is a diagnostic form only and must not be fed back into ToCanonical.
func Format(c Cite) string {
	if c.isPath || c.Path != "" {
		return c.Path
	}
	if c.Chan != nil {
		return c.Chan.String()
	}
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%+v", c)
	}
	return string(b)
}

// String returns the canonical-style path of the chan citation.
func (cc *ChanCite) String() string {
	return fmt.Sprintf("%s%s/%s/%s/%s", chanPrefix, cc.Kind, shipName(cc.Ship), cc.Name, strings.Join(cc.Wer, "/"))
}

// shipName prefixes s with "~" unless it already has one.
func shipName(s string) string {
	if strings.HasPrefix(s, "~") {
		return s
	}
	return "~" + s
}

// IsZero reports whether c carries no citation, as after decoding null.
func (c Cite) IsZero() bool {
	return !c.isPath && c.Path == "" && c.Chan == nil && c.Group == nil && c.Desk == nil && len(c.raw) == 0
}

// UnmarshalJSON accepts either a JSON string or a descriptor object. Objects
// without a recognised descriptor are kept verbatim for Format's fallback.
// null leaves c unchanged.
func (c *Cite) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = FromPath(s)
		return nil
	}

	var wire struct {
		Chan  *ChanCite  `json:"chan"`
		Group *GroupCite `json:"group"`
		Desk  *DeskCite  `json:"desk"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		if !json.Valid(data) {
			return fmt.Errorf("decode cite: %w", err)
		}
		// Well-formed but unrecognised shape: keep it for the fallback.
		*c = Cite{raw: append(json.RawMessage(nil), data...)}
		return nil
	}

	*c = Cite{
		Chan:  wire.Chan,
		Group: wire.Group,
		Desk:  wire.Desk,
		raw:   append(json.RawMessage(nil), data...),
	}
	return nil
}

// MarshalJSON re-emits the citation. A decoded citation round-trips its
// original bytes in compact form.
func (c Cite) MarshalJSON() ([]byte, error) {
	if c.isPath || c.Path != "" {
		return json.Marshal(c.Path)
	}
	if len(c.raw) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, c.raw); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(struct {
		Chan  *ChanCite  `json:"chan,omitempty"`
		Group *GroupCite `json:"group,omitempty"`
		Desk  *DeskCite  `json:"desk,omitempty"`
	}{c.Chan, c.Group, c.Desk})
}

// UnmarshalJSON decodes the nest tuple and the wer segments. A nest given as
// "kind/ship/name" and a wer given as a single string are also accepted.
func (cc *ChanCite) UnmarshalJSON(data []byte) error {
	var wire struct {
		Nest json.RawMessage `json:"nest"`
		Wer  json.RawMessage `json:"wer"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode chan cite: %w", err)
	}

	kind, ship, name, err := decodeNest(wire.Nest)
	if err != nil {
		return err
	}
	wer, err := decodeWer(wire.Wer)
	if err != nil {
		return err
	}

	*cc = ChanCite{Kind: kind, Ship: ship, Name: name, Wer: wer}
	return nil
}

// MarshalJSON emits the nest/wer wire form.
func (cc ChanCite) MarshalJSON() ([]byte, error) {
	wer := cc.Wer
	if wer == nil {
		wer = []string{}
	}
	return json.Marshal(map[string]any{
		"nest": []any{cc.Kind, []string{cc.Ship, cc.Name}},
		"wer":  wer,
	})
}

func decodeNest(raw json.RawMessage) (kind, ship, name string, err error) {
	if len(raw) == 0 {
		return "", "", "", fmt.Errorf("decode chan cite: missing nest")
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		parts := strings.SplitN(s, "/", 3)
		if len(parts) != 3 {
			return "", "", "", fmt.Errorf("decode chan cite: malformed nest %q", s)
		}
		return parts[0], parts[1], parts[2], nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) != 2 {
		return "", "", "", fmt.Errorf("decode chan cite: nest must be [kind, [ship, name]]")
	}
	if err := json.Unmarshal(tuple[0], &kind); err != nil {
		return "", "", "", fmt.Errorf("decode chan cite: nest kind: %w", err)
	}
	var flag [2]string
	if err := json.Unmarshal(tuple[1], &flag); err != nil {
		return "", "", "", fmt.Errorf("decode chan cite: nest flag: %w", err)
	}
	return kind, flag[0], flag[1], nil
}

func decodeWer(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var segs []string
	if err := json.Unmarshal(raw, &segs); err == nil {
		return segs, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode wer: %w", err)
	}
	return []string{s}, nil
}

// UnmarshalJSON decodes the [ship, name] pair.
func (g *GroupCite) UnmarshalJSON(data []byte) error {
	var flag [2]string
	if err := json.Unmarshal(data, &flag); err != nil {
		return fmt.Errorf("decode group cite: %w", err)
	}
	*g = GroupCite{Ship: flag[0], Name: flag[1]}
	return nil
}

// MarshalJSON emits the [ship, name] pair.
func (g GroupCite) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{g.Ship, g.Name})
}

// UnmarshalJSON decodes the flag pair and wer segments.
func (d *DeskCite) UnmarshalJSON(data []byte) error {
	var wire struct {
		Flag [2]string       `json:"flag"`
		Wer  json.RawMessage `json:"wer"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode desk cite: %w", err)
	}
	wer, err := decodeWer(wire.Wer)
	if err != nil {
		return err
	}
	*d = DeskCite{Ship: wire.Flag[0], Desk: wire.Flag[1], Wer: wer}
	return nil
}

// MarshalJSON emits the flag/wer wire form.
func (d DeskCite) MarshalJSON() ([]byte, error) {
	wer := d.Wer
	if wer == nil {
		wer = []string{}
	}
	return json.Marshal(map[string]any{
		"flag": [2]string{d.Ship, d.Desk},
		"wer":  wer,
	})
}
