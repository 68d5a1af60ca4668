package cite

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a channel kind is not one of chat, diary or heap.
var ErrUnknownKind = errors.New("unknown channel kind")

// Kind is the content category of a channel. The set is closed: every Kind
// has exactly one content-type label, see TypeLabel.
type Kind string

const (
	KindChat  Kind = "chat"
	KindDiary Kind = "diary"
	KindHeap  Kind = "heap"
)

// Kinds returns every known channel kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindChat, KindDiary, KindHeap}
}

// ParseKind validates an untyped channel kind, e.g. one read from a CLI
// argument or a JSON payload.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q (expected chat, diary, or heap)", ErrUnknownKind, s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindDiary, KindHeap:
		return true
	}
	return false
}

// TypeLabel returns the item type segment used in cite paths for k:
// "msg" for chat, "note" for diary and "curio" for heap. It panics on a Kind
// that did not come from ParseKind or one of the constants.
func (k Kind) TypeLabel() string {
	switch k {
	case KindChat:
		return "msg"
	case KindDiary:
		return "note"
	case KindHeap:
		return "curio"
	}
	panic(fmt.Sprintf("cite: no type label for kind %q", string(k)))
}

// String returns the kind as it appears in paths.
func (k Kind) String() string { return string(k) }
