package widget

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talonops/talon/internal/entity"
	"github.com/talonops/talon/internal/lifecycle"
	"github.com/talonops/talon/internal/storage"
	"github.com/talonops/talon/model"
)

func testOptions() []Option {
	return []Option{
		{Value: "em-1", Label: "1° Reggimento"},
		{Value: "em-2", Label: "Genio guastatori"},
		{Value: "em-3", Label: "Reggimento logistico"},
		{Value: "ec-1", Label: "Protezione civile"},
	}
}

func values(opts []Option) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Value
	}
	return out
}

func TestSearchSelect_filterIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := New("ente", testOptions(), storage.NewMemory())

	require.NoError(t, s.Search(ctx, "REGGIMENTO"))
	st := s.State()
	assert.True(t, st.Open)
	assert.Equal(t, []string{"em-1", "em-3"}, values(st.Options))
	assert.Equal(t, 0, st.Highlight)

	require.NoError(t, s.Search(ctx, "zzz"))
	st = s.State()
	assert.Empty(t, st.Options)
	assert.Equal(t, -1, st.Highlight)

	require.NoError(t, s.Search(ctx, "  "))
	assert.Len(t, s.State().Options, 4)
}

func TestSearchSelect_keyboard(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemory()
	s := New("ente", testOptions(), session)

	opt, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "em-1", opt.Value)

	opt, _ = s.Prev()
	assert.Equal(t, "ec-1", opt.Value, "Prev wraps to the last option")

	handled, err := s.HandleKey(ctx, "ArrowDown")
	require.NoError(t, err)
	assert.True(t, handled)
	opt, _ = s.Highlighted()
	assert.Equal(t, "em-1", opt.Value, "ArrowDown wraps to the first option")

	handled, err = s.HandleKey(ctx, "Tab")
	require.NoError(t, err)
	assert.False(t, handled)

	_, err = s.HandleKey(ctx, "Enter")
	require.NoError(t, err)
	sel, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, "em-1", sel.Value)
	assert.False(t, s.State().Open)

	_, _ = s.HandleKey(ctx, "ArrowUp")
	_, _ = s.HandleKey(ctx, "Escape")
	st := s.State()
	assert.False(t, st.Open)
	assert.Equal(t, -1, st.Highlight)
}

func TestSearchSelect_enterWithoutHighlight(t *testing.T) {
	s := New("ente", testOptions(), storage.NewMemory())
	handled, err := s.HandleKey(context.Background(), "Enter")
	require.NoError(t, err)
	assert.False(t, handled)
	_, ok := s.Selected()
	assert.False(t, ok)
}

func TestSearchSelect_selectionPersistsAcrossInit(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemory()

	var changes []Option
	s := New("ente", testOptions(), session, WithOnChange(func(o Option) { changes = append(changes, o) }))
	require.NoError(t, s.Search(ctx, "genio"))
	require.NoError(t, s.Select(ctx, "em-2"))

	raw, found, err := session.Get(ctx, "talon_select_ente")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"value":"em-2","label":"Genio guastatori"}`, raw)
	require.Len(t, changes, 1)
	assert.Equal(t, "em-2", changes[0].Value)

	// A new page builds a new widget over the same session.
	restored := New("ente", testOptions(), session)
	require.NoError(t, restored.Init(ctx))
	sel, ok := restored.Selected()
	require.True(t, ok)
	assert.Equal(t, Option{Value: "em-2", Label: "Genio guastatori"}, sel)
}

func TestSearchSelect_selectUnknown(t *testing.T) {
	ctx := context.Background()
	s := New("ente", testOptions(), storage.NewMemory())
	require.NoError(t, s.Search(ctx, "genio"))

	err := s.Select(ctx, "em-1")
	assert.True(t, errors.Is(err, ErrUnknownOption), "options hidden by the search cannot be selected")
}

func TestSearchSelect_clear(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemory()
	s := New("ente", testOptions(), session)
	require.NoError(t, s.Select(ctx, "ec-1"))
	require.NoError(t, s.Clear(ctx))

	_, ok := s.Selected()
	assert.False(t, ok)
	_, found, err := session.Get(ctx, s.Key())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSearchSelect_corruptSelectionDropped(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemory()
	require.NoError(t, session.Set(ctx, "talon_select_ente", "{broken"))

	s := New("ente", testOptions(), session)
	require.NoError(t, s.Init(ctx))
	_, ok := s.Selected()
	assert.False(t, ok)
	_, found, _ := session.Get(ctx, "talon_select_ente")
	assert.False(t, found)
}

func TestSearchSelect_setOptionsKeepsQuery(t *testing.T) {
	ctx := context.Background()
	s := New("ente", nil, storage.NewMemory())
	require.NoError(t, s.Search(ctx, "civile"))
	assert.Empty(t, s.State().Options)

	s.SetOptions(testOptions())
	assert.Equal(t, []string{"ec-1"}, values(s.State().Options))
}

func TestSearchSelect_entityLoader(t *testing.T) {
	ctx := context.Background()
	src := entity.NewFixtureSource([]model.MilitaryEntity{
		{ID: "em-1", Name: "1° Reggimento", Code: "RGT1"},
		{ID: "em-2", Name: "Genio guastatori", Code: "GG2"},
	}, func(m model.MilitaryEntity, id string) model.MilitaryEntity {
		m.ID = id
		return m
	})
	loader := EntityLoader[model.MilitaryEntity](src, func(m model.MilitaryEntity) string {
		return m.Code + " - " + m.Name
	})

	s := New("ente_militare", nil, storage.NewMemory(), WithLoader(loader))
	require.NoError(t, s.Search(ctx, "genio"))
	st := s.State()
	require.Len(t, st.Options, 1)
	assert.Equal(t, Option{Value: "em-2", Label: "GG2 - Genio guastatori"}, st.Options[0])
	require.NoError(t, s.Select(ctx, "em-2"))
}

func TestSearchSelect_loaderError(t *testing.T) {
	failing := func(context.Context, string) ([]Option, error) { return nil, errors.New("backend down") }
	s := New("ente", testOptions(), storage.NewMemory(), WithLoader(failing))

	err := s.Search(context.Background(), "genio")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestSearchSelect_hook(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemory()
	s := New("ente", testOptions(), session)
	require.NoError(t, s.Select(ctx, "em-3"))
	require.NoError(t, s.Search(ctx, "genio"))

	h := s.Hook(lifecycle.MatchRoute(lifecycle.RouteActivities))
	assert.Equal(t, "select:ente", h.Name)
	assert.True(t, h.Match("/attivita/new"))
	require.NoError(t, h.Init(ctx, "/attivita/new"))

	st := s.State()
	assert.Empty(t, st.Query)
	assert.Len(t, st.Options, 4)
	require.NotNil(t, st.Selected)
	assert.Equal(t, "em-3", st.Selected.Value)
}
