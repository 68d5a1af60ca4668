// Package cite translates between the address forms of a piece of channel
// content on a ship.
//
// Three forms exist:
//
//	chat/~zod/general/170.141                 simplified
//	/1/chan/chat/~zod/general/msg/170.141     canonical (versioned)
//	/chan/chat/~zod/general/msg/170.141       public URL path
//
// The simplified form omits the version, the "chan" marker and the item type
// label; the label is always derived from the channel kind. The public URL
// path is served by the expose agent under <ship-url>/expose.
package cite

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned when an address cannot be read as either the
// simplified or the canonical form.
var ErrInvalidPath = errors.New("invalid cite path")

const (
	// Version is the cite path version emitted by ToCanonical.
	Version = "1"

	versionPrefix = "/" + Version
	canonicalMark = versionPrefix + "/"
	chanPrefix    = canonicalMark + "chan/"

	formats = "expected chat/~host/channel/post-id or /1/chan/chat/~host/channel/msg/post-id"
)

// ToCanonical expands a simplified address into its canonical form.
//
// An address that already starts with "/1/" is returned verbatim and is not
// validated; use Parse to check a canonical path. The item id may itself
// contain slashes and is carried over unchanged.
func ToCanonical(addr string) (string, error) {
	if IsCanonical(addr) {
		return addr, nil
	}

	parts := strings.Split(addr, "/")
	if len(parts) < 4 {
		return "", fmt.Errorf("%w %q: %s", ErrInvalidPath, addr, formats)
	}

	itemID := strings.Join(parts[3:], "/")
	if itemID == "" {
		return "", fmt.Errorf("%w %q: missing post id, %s", ErrInvalidPath, addr, formats)
	}

	kind, err := ParseKind(parts[0])
	if err != nil {
		return "", err
	}

	p := Path{Kind: kind, Host: parts[1], Channel: parts[2], ItemID: itemID}
	return p.String(), nil
}

// IsCanonical reports whether addr carries the canonical version prefix.
func IsCanonical(addr string) bool {
	return strings.HasPrefix(addr, canonicalMark)
}

// CanonicalToURLPath strips the leading "/1" from a canonical path. Input
// without the prefix is returned unchanged. Call it once per path: the result
// no longer carries the prefix it looks for.
func CanonicalToURLPath(canonical string) string {
	if IsCanonical(canonical) {
		return canonical[len(versionPrefix):]
	}
	return canonical
}

// PublicURL returns the clearweb URL of addr on the ship served at baseURL.
// baseURL must not end with a slash.
//
//	PublicURL("chat/~zod/general/170", "https://zod.tlon.network")
//	// https://zod.tlon.network/expose/chan/chat/~zod/general/msg/170
func PublicURL(addr, baseURL string) (string, error) {
	canonical, err := ToCanonical(addr)
	if err != nil {
		return "", err
	}
	return baseURL + "/expose" + CanonicalToURLPath(canonical), nil
}

// Path is a decomposed channel cite path.
type Path struct {
	Kind    Kind
	Host    string // e.g. "~zod"
	Channel string // e.g. "general"
	ItemID  string // may contain "/"
}

// Parse decomposes a canonical or simplified channel address. Unlike
// ToCanonical it validates canonical input: the version, the "chan" marker
// and the type label must agree with the kind.
func Parse(addr string) (Path, error) {
	if !IsCanonical(addr) {
		canonical, err := ToCanonical(addr)
		if err != nil {
			return Path{}, err
		}
		addr = canonical
	}

	if !strings.HasPrefix(addr, chanPrefix) {
		return Path{}, fmt.Errorf("%w %q: not a channel cite, %s", ErrInvalidPath, addr, formats)
	}

	// kind/host/channel/label/item...
	parts := strings.Split(strings.TrimPrefix(addr, chanPrefix), "/")
	if len(parts) < 5 {
		return Path{}, fmt.Errorf("%w %q: %s", ErrInvalidPath, addr, formats)
	}

	kind, err := ParseKind(parts[0])
	if err != nil {
		return Path{}, err
	}
	if parts[3] != kind.TypeLabel() {
		return Path{}, fmt.Errorf("%w %q: type %q does not match kind %q (want %q)",
			ErrInvalidPath, addr, parts[3], kind, kind.TypeLabel())
	}

	p := Path{
		Kind:    kind,
		Host:    parts[1],
		Channel: parts[2],
		ItemID:  strings.Join(parts[4:], "/"),
	}
	if p.Host == "" || p.Channel == "" || p.ItemID == "" {
		return Path{}, fmt.Errorf("%w %q: empty segment, %s", ErrInvalidPath, addr, formats)
	}
	return p, nil
}

// String returns the canonical path.
func (p Path) String() string {
	return fmt.Sprintf("%s%s/%s/%s/%s/%s", chanPrefix, p.Kind, p.Host, p.Channel, p.Kind.TypeLabel(), p.ItemID)
}

// Simplified returns the short form kind/host/channel/item.
func (p Path) Simplified() string {
	return fmt.Sprintf("%s/%s/%s/%s", p.Kind, p.Host, p.Channel, p.ItemID)
}

// URLPath returns the path served under <ship-url>/expose.
func (p Path) URLPath() string {
	return CanonicalToURLPath(p.String())
}
