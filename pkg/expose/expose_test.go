package expose_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/expose/pkg/cite"
	"github.com/jmerrifield20/expose/pkg/expose"
)

// ── Fake transport ──────────────────────────────────────────────────────

type poke struct {
	app, mark string
	payload   any
}

type fakeTransport struct {
	mu      sync.Mutex
	pokes   []poke
	scries  []string
	scry    map[string]string // path → JSON body
	scryErr error
	pokeErr error
}

func (f *fakeTransport) Poke(_ context.Context, app, mark string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pokes = append(f.pokes, poke{app, mark, payload})
	return f.pokeErr
}

func (f *fakeTransport) Scry(_ context.Context, app, path string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scries = append(f.scries, app+path)
	if f.scryErr != nil {
		return nil, f.scryErr
	}
	body, ok := f.scry[path]
	if !ok {
		return nil, fmt.Errorf("scry %s: %w", path, expose.ErrNotFound)
	}
	return json.RawMessage(body), nil
}

// notFoundErr mimics a transport error type that reports 404 by method.
type notFoundErr struct{}

func (notFoundErr) Error() string  { return "404" }
func (notFoundErr) NotFound() bool { return true }

func newService(f *fakeTransport) *expose.Service {
	return expose.New(f, expose.WithLogger(zap.NewNop()), expose.WithBaseURL("https://zod.tlon.network"))
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestList_array(t *testing.T) {
	f := &fakeTransport{scry: map[string]string{
		"/show": `[
			"/1/chan/chat/~zod/general/msg/1",
			{"chan": {"nest": ["diary", ["zod", "blog"]], "wer": ["note", "170.141"]}},
			{"group": ["~zod", "g"]}
		]`,
	}}

	got, err := newService(f).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/1/chan/chat/~zod/general/msg/1",
		"/1/chan/diary/~zod/blog/note/170.141",
		`{"group":["~zod","g"]}`,
	}, got)
	assert.Equal(t, []string{"expose/show"}, f.scries)
}

func TestList_keyedSet(t *testing.T) {
	f := &fakeTransport{scry: map[string]string{
		"/show": `{
			"b": {"chan": {"nest": ["heap", ["bus", "links"]], "wer": ["curio", "2"]}},
			"a": "/1/chan/chat/~zod/general/msg/1"
		}`,
	}}

	got, err := newService(f).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/1/chan/chat/~zod/general/msg/1",
		"/1/chan/heap/~bus/links/curio/2",
	}, got)
}

func TestList_notFoundIsEmpty(t *testing.T) {
	for _, err := range []error{expose.ErrNotFound, notFoundErr{}, fmt.Errorf("wrapped: %w", notFoundErr{})} {
		f := &fakeTransport{scryErr: err}
		got, lerr := newService(f).List(context.Background())
		require.NoError(t, lerr)
		assert.Empty(t, got)
		assert.NotNil(t, got)
	}
}

func TestList_nullAndScalar(t *testing.T) {
	for _, body := range []string{"null", "42", `"x"`} {
		f := &fakeTransport{scry: map[string]string{"/show": body}}
		got, err := newService(f).List(context.Background())
		require.NoError(t, err, body)
		assert.Empty(t, got, body)
	}
}

func TestList_dropsNullEntries(t *testing.T) {
	for _, body := range []string{
		`["/1/chan/chat/~zod/g/msg/1", null]`,
		`{"a": "/1/chan/chat/~zod/g/msg/1", "b": null}`,
	} {
		f := &fakeTransport{scry: map[string]string{"/show": body}}
		got, err := newService(f).List(context.Background())
		require.NoError(t, err, body)
		assert.Equal(t, []string{"/1/chan/chat/~zod/g/msg/1"}, got, body)
	}
}

func TestList_otherErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	f := &fakeTransport{scryErr: boom}
	_, err := newService(f).List(context.Background())
	assert.Same(t, boom, err)
}

func TestIsExposed(t *testing.T) {
	const canonical = "/1/chan/chat/~zod/general/msg/170"
	cases := []struct {
		body string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"null", false},
		{"0", false},
		{"1", true},
		{`""`, false},
		{`"yes"`, true},
		{`{}`, true},
		{`[]`, true},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			f := &fakeTransport{scry: map[string]string{"/show" + canonical: tc.body}}
			got, err := newService(f).IsExposed(context.Background(), "chat/~zod/general/170")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, []string{"expose/show" + canonical}, f.scries)
		})
	}
}

func TestIsExposed_notFound(t *testing.T) {
	f := &fakeTransport{scry: map[string]string{}}
	got, err := newService(f).IsExposed(context.Background(), "chat/~zod/general/170")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIsExposed_otherError(t *testing.T) {
	boom := errors.New("500")
	f := &fakeTransport{scryErr: boom}
	_, err := newService(f).IsExposed(context.Background(), "chat/~zod/general/170")
	assert.Same(t, boom, err)
}

func TestExposeAndHide(t *testing.T) {
	f := &fakeTransport{}
	svc := newService(f)
	ctx := context.Background()

	require.NoError(t, svc.Expose(ctx, "diary/~zod/blog/170.141"))
	require.NoError(t, svc.Hide(ctx, "/1/chan/diary/~zod/blog/note/170.141"))

	require.Len(t, f.pokes, 2)
	assert.Equal(t, poke{"expose", "json", expose.ShowAction{Show: "/1/chan/diary/~zod/blog/note/170.141"}}, f.pokes[0])
	assert.Equal(t, poke{"expose", "json", expose.HideAction{Hide: "/1/chan/diary/~zod/blog/note/170.141"}}, f.pokes[1])

	b, err := json.Marshal(f.pokes[0].payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"show":"/1/chan/diary/~zod/blog/note/170.141"}`, string(b))
}

func TestChangeRecorder(t *testing.T) {
	type change struct {
		action string
		ok     bool
	}
	var got []change
	rec := expose.WithChangeRecorder(func(action string, ok bool) { got = append(got, change{action, ok}) })

	f := &fakeTransport{}
	svc := expose.New(f, rec)
	ctx := context.Background()
	require.NoError(t, svc.Expose(ctx, "chat/~zod/general/170"))
	require.NoError(t, svc.SetEagerMode(ctx, true))

	f.pokeErr = errors.New("connection refused")
	require.Error(t, svc.Hide(ctx, "chat/~zod/general/170"))

	// A malformed address never reaches the ship and is not recorded.
	require.Error(t, svc.Expose(ctx, "chat/~zod"))

	assert.Equal(t, []change{{"show", true}, {"eager", true}, {"hide", false}}, got)
}

func TestExpose_notFoundPropagates(t *testing.T) {
	f := &fakeTransport{pokeErr: expose.ErrNotFound}
	err := newService(f).Expose(context.Background(), "chat/~zod/general/1")
	assert.ErrorIs(t, err, expose.ErrNotFound)
}

func TestMalformedAddressMakesNoCall(t *testing.T) {
	f := &fakeTransport{}
	svc := newService(f)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Expose(ctx, "chat/~zod"), cite.ErrInvalidPath)
	assert.ErrorIs(t, svc.Hide(ctx, "oops/~zod/ch/1"), cite.ErrUnknownKind)
	_, err := svc.IsExposed(ctx, "chat")
	assert.ErrorIs(t, err, cite.ErrInvalidPath)

	assert.Empty(t, f.pokes)
	assert.Empty(t, f.scries)
}

func TestSetEagerMode(t *testing.T) {
	f := &fakeTransport{}
	require.NoError(t, newService(f).SetEagerMode(context.Background(), true))
	require.Len(t, f.pokes, 1)
	assert.Equal(t, poke{"expose", "noun", expose.EagerAction{Eager: true}}, f.pokes[0])
}

func TestPublicURL(t *testing.T) {
	got, err := newService(&fakeTransport{}).PublicURL("chat/~zod/general/170")
	require.NoError(t, err)
	assert.Equal(t, "https://zod.tlon.network/expose/chan/chat/~zod/general/msg/170", got)

	_, err = expose.New(&fakeTransport{}).PublicURL("chat/~zod/general/170")
	assert.Error(t, err)
}

func TestDecodeCites_invalid(t *testing.T) {
	_, err := expose.DecodeCites(json.RawMessage(`[1, `))
	assert.Error(t, err)
}
