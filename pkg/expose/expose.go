// Package expose manages which channel posts a ship publishes on the
// clearweb through its %expose agent.
//
// Every operation takes an address in simplified (chat/~zod/general/170) or
// canonical (/1/chan/chat/~zod/general/msg/170) form and issues at most one
// remote call through a Transport. A Service keeps no mutable state and may be
// used from many goroutines.
//
//	c, _ := client.New("https://zod.tlon.network", client.WithShip("~zod"))
//	_ = c.Login(ctx, code)
//	svc := expose.New(c, expose.WithBaseURL(c.URL()))
//	if err := svc.Expose(ctx, "diary/~zod/blog/170.141"); err != nil { ... }
//	url, _ := svc.PublicURL("diary/~zod/blog/170.141")
package expose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/jmerrifield20/expose/pkg/cite"
)

// App is the agent every command and read is addressed to.
const App = "expose"

// Marks used for commands.
const (
	MarkJSON = "json"
	MarkNoun = "noun"
)

// ErrNotFound may be returned (or wrapped) by a Transport when the remote
// path does not exist. Errors that implement NotFound() bool are treated the
// same way.
var ErrNotFound = errors.New("not found")

// Transport performs the remote calls. Scry must report a missing path so
// that IsNotFound recognises it; *client.Client does.
type Transport interface {
	Poke(ctx context.Context, app, mark string, payload any) error
	Scry(ctx context.Context, app, path string) (json.RawMessage, error)
}

// IsNotFound reports whether err means the remote path does not exist.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var nf interface{ NotFound() bool }
	return errors.As(err, &nf) && nf.NotFound()
}

// ShowAction publishes a post.
type ShowAction struct {
	Show string `json:"show"`
}

// HideAction withdraws a published post.
type HideAction struct {
	Hide string `json:"hide"`
}

// EagerAction toggles pre-fetching of pinned posts from other ships.
type EagerAction struct {
	Eager bool `json:"eager"`
}

// Service issues exposure operations over a Transport.
type Service struct {
	t       Transport
	baseURL string
	logger  *zap.Logger
	record  ChangeRecordFunc
}

// ChangeRecordFunc is called after every command with its action
// (show, hide, eager) and whether the ship accepted it.
type ChangeRecordFunc func(action string, success bool)

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithChangeRecorder sets the callback invoked after every command.
func WithChangeRecorder(fn ChangeRecordFunc) Option {
	return func(s *Service) { s.record = fn }
}

// WithBaseURL sets the ship URL used by PublicURL. It must not end with "/".
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = u }
}

// New creates a Service over t.
func New(t Transport, opts ...Option) *Service {
	s := &Service{t: t, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// List returns the canonical paths of every exposed post. A missing /show
// path yields an empty list.
func (s *Service) List(ctx context.Context) ([]string, error) {
	raw, err := s.t.Scry(ctx, App, "/show")
	if err != nil {
		if IsNotFound(err) {
			s.logger.Debug("exposed set not found, treating as empty")
			return []string{}, nil
		}
		return nil, err
	}

	cites, err := DecodeCites(raw)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(cites))
	for _, c := range cites {
		paths = append(paths, cite.Format(c))
	}
	return paths, nil
}

// IsExposed reports whether the post at addr is exposed. A missing path
// means it is not.
func (s *Service) IsExposed(ctx context.Context, addr string) (bool, error) {
	canonical, err := cite.ToCanonical(addr)
	if err != nil {
		return false, err
	}

	raw, err := s.t.Scry(ctx, App, "/show"+canonical)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return truthy(raw), nil
}

// Expose publishes the post at addr.
func (s *Service) Expose(ctx context.Context, addr string) error {
	canonical, err := cite.ToCanonical(addr)
	if err != nil {
		return err
	}
	return s.poke(ctx, "show", MarkJSON, ShowAction{Show: canonical}, zap.String("cite", canonical))
}

// Hide withdraws the post at addr.
func (s *Service) Hide(ctx context.Context, addr string) error {
	canonical, err := cite.ToCanonical(addr)
	if err != nil {
		return err
	}
	return s.poke(ctx, "hide", MarkJSON, HideAction{Hide: canonical}, zap.String("cite", canonical))
}

// SetEagerMode toggles whether the agent pre-fetches pinned posts from other
// ships to prime its cache.
func (s *Service) SetEagerMode(ctx context.Context, enabled bool) error {
	return s.poke(ctx, "eager", MarkNoun, EagerAction{Eager: enabled}, zap.Bool("eager", enabled))
}

// PublicURL returns the clearweb URL of addr on the configured ship.
func (s *Service) PublicURL(addr string) (string, error) {
	if s.baseURL == "" {
		return "", fmt.Errorf("public URL: no base URL configured")
	}
	return cite.PublicURL(addr, s.baseURL)
}

func (s *Service) poke(ctx context.Context, action, mark string, payload any, field zap.Field) error {
	err := s.t.Poke(ctx, App, mark, payload)
	if s.record != nil {
		s.record(action, err == nil)
	}
	if err != nil {
		return err
	}
	s.logger.Info("expose "+action, field)
	return nil
}

// DecodeCites normalises a /show response. The agent may answer with a JSON
// array of citations or with an object whose values are citations; object
// values are returned in key order. null decodes to an empty slice, and null
// entries are dropped.
func DecodeCites(raw json.RawMessage) ([]cite.Cite, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return []cite.Cite{}, nil
	}

	switch raw[0] {
	case '[':
		var list []cite.Cite
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode exposed list: %w", err)
		}
		return dropZero(list), nil
	case '{':
		var set map[string]cite.Cite
		if err := json.Unmarshal(raw, &set); err != nil {
			return nil, fmt.Errorf("decode exposed set: %w", err)
		}
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		list := make([]cite.Cite, 0, len(keys))
		for _, k := range keys {
			list = append(list, set[k])
		}
		return dropZero(list), nil
	}
	return []cite.Cite{}, nil
}

func dropZero(list []cite.Cite) []cite.Cite {
	out := list[:0]
	for _, c := range list {
		if !c.IsZero() {
			out = append(out, c)
		}
	}
	return out
}

// truthy follows JavaScript truthiness for a JSON value.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", `""`:
		return false
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		return n != 0
	}
	return true
}
