package search

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkg/errors"

	"github.com/yasadev/ani-mate/internal/anilist"
	"github.com/yasadev/ani-mate/internal/jikan"
	"github.com/yasadev/ani-mate/internal/models"
)

type fakeCatalog struct {
	mu           sync.Mutex
	results      []models.ShowSummary
	err          error
	limited      map[string][]models.ShowSummary
	limitedCalls []string
	popular      []models.ShowSummary
}

func (f *fakeCatalog) Search(ctx context.Context, query, mode string) ([]models.ShowSummary, error) {
	return append([]models.ShowSummary(nil), f.results...), f.err
}

func (f *fakeCatalog) SearchLimited(ctx context.Context, query, mode string, limit int) ([]models.ShowSummary, error) {
	f.mu.Lock()
	f.limitedCalls = append(f.limitedCalls, query)
	f.mu.Unlock()
	return f.limited[query], nil
}

func (f *fakeCatalog) DailyPopular(ctx context.Context, mode string) ([]models.ShowSummary, error) {
	return append([]models.ShowSummary(nil), f.popular...), nil
}

type fakeMetadata struct {
	media      []anilist.Media
	mediaErr   error
	covers     map[string]anilist.CoverInfo
	coverCalls int
	schedule   []anilist.Schedule
	schedCalls int
	info       anilist.Info
	infoOK     bool
	infoErr    error
}

func (f *fakeMetadata) Search(ctx context.Context, query string, limit int) ([]anilist.Media, error) {
	return f.media, f.mediaErr
}

func (f *fakeMetadata) CoverBatch(ctx context.Context, titles []string) (map[string]anilist.CoverInfo, error) {
	f.coverCalls++
	out := make(map[string]anilist.CoverInfo, len(titles))
	for _, title := range titles {
		if info, ok := f.covers[title]; ok {
			out[title] = info
		}
	}
	return out, nil
}

func (f *fakeMetadata) AiringSchedule(ctx context.Context, dayStart, dayEnd int64) ([]anilist.Schedule, error) {
	f.schedCalls++
	return f.schedule, nil
}

func (f *fakeMetadata) Info(ctx context.Context, title string) (anilist.Info, bool, error) {
	return f.info, f.infoOK, f.infoErr
}

type fakeFallback struct {
	info  jikan.Info
	ok    bool
	err   error
	calls int
}

func (f *fakeFallback) Info(ctx context.Context, title string) (jikan.Info, bool, error) {
	f.calls++
	return f.info, f.ok, f.err
}

func newTestAggregator(catalog Catalog, meta Metadata, fallback InfoFallback) *Aggregator {
	return New(catalog, meta, fallback, DefaultOptions())
}

func TestSearchEnrichesFromMetadata(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{results: []models.ShowSummary{
		{ID: "c1", Name: "Frieren: Beyond Journey's End", Episodes: 28, Kind: models.KindSeries},
	}}
	meta := &fakeMetadata{media: []anilist.Media{
		{
			ID:           1001,
			TitleRomaji:  "Sousou no Frieren",
			TitleEnglish: "Frieren - Beyond Journey's End",
			Cover:        "https://img/frieren.png",
			Description:  "An elf mage outlives her party.",
			Format:       "TV",
		},
	}}

	agg := newTestAggregator(catalog, meta, &fakeFallback{})
	results, err := agg.Search(context.Background(), "frieren", "sub")
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Catalog identity survives; AniList fills the gaps.
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, 28, results[0].Episodes)
	assert.Equal(t, "https://img/frieren.png", results[0].Cover)
	assert.Equal(t, "An elf mage outlives her party.", results[0].Description)
	assert.Equal(t, 1001, results[0].AnilistID)
	assert.Equal(t, "TV", results[0].Format)
}

func TestSearchSecondaryFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{results: []models.ShowSummary{
		{ID: "c1", Name: "Some Show", Episodes: 12},
	}}
	meta := &fakeMetadata{mediaErr: errors.New("anilist down")}

	agg := newTestAggregator(catalog, meta, &fakeFallback{})
	results, err := agg.Search(context.Background(), "some", "sub")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ID)
}

func TestSearchPrimaryFailurePropagates(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{err: errors.New("catalog unreachable")}
	agg := newTestAggregator(catalog, &fakeMetadata{}, &fakeFallback{})

	_, err := agg.Search(context.Background(), "x", "sub")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog unreachable")
}

func TestSearchAdoptsSecondaryOnlyTitles(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{
		results: []models.ShowSummary{{ID: "c1", Name: "Known Show", Episodes: 12}},
		limited: map[string][]models.ShowSummary{
			"Hidden Gem": {{ID: "c9", Name: "Hidden Gem", Episodes: 24, Kind: models.KindSeries}},
		},
	}
	meta := &fakeMetadata{media: []anilist.Media{
		{ID: 1, TitleRomaji: "Known Show"},
		{ID: 2, TitleRomaji: "Hidden Gem", Cover: "https://img/gem.png", Description: "desc"},
	}}

	agg := newTestAggregator(catalog, meta, &fakeFallback{})
	results, err := agg.Search(context.Background(), "show", "sub")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, "c9", results[1].ID)
	assert.Equal(t, "https://img/gem.png", results[1].Cover)
	assert.Equal(t, 2, results[1].AnilistID)

	// Only the unmatched title got a supplemental catalog search.
	assert.Equal(t, []string{"Hidden Gem"}, catalog.limitedCalls)
}

func TestSearchAdoptionSkipsClaimedHits(t *testing.T) {
	t.Parallel()

	// The supplemental search leads with a show that is already in the
	// result set; the adoption must scan past it to the unclaimed one.
	catalog := &fakeCatalog{
		results: []models.ShowSummary{{ID: "c1", Name: "Known Show", Episodes: 12}},
		limited: map[string][]models.ShowSummary{
			"Gem Saga": {
				{ID: "c1", Name: "Known Show", Episodes: 12},
				{ID: "c9", Name: "Hidden Gem", Episodes: 24, Kind: models.KindSeries},
			},
		},
	}
	meta := &fakeMetadata{media: []anilist.Media{
		{ID: 2, TitleRomaji: "Gem Saga", Cover: "https://img/gem.png"},
	}}

	agg := newTestAggregator(catalog, meta, &fakeFallback{})
	results, err := agg.Search(context.Background(), "gem", "sub")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, "c9", results[1].ID)
	assert.Equal(t, "Hidden Gem", results[1].Name)
	assert.Equal(t, 2, results[1].AnilistID)
}

func TestSearchSupplementalCapBoundsFanOut(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{limited: map[string][]models.ShowSummary{}}
	var media []anilist.Media
	for i := 0; i < 10; i++ {
		media = append(media, anilist.Media{ID: 100 + i, TitleRomaji: string(rune('A'+i)) + " Show"})
	}
	meta := &fakeMetadata{media: media}

	agg := newTestAggregator(catalog, meta, &fakeFallback{})
	_, err := agg.Search(context.Background(), "show", "sub")
	require.NoError(t, err)
	assert.Len(t, catalog.limitedCalls, DefaultOptions().SupplementalSearchCap)
}

func TestSearchFillsCoversInBatch(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{results: []models.ShowSummary{
		{ID: "c1", Name: "Alpha", Episodes: 12},
		{ID: "c2", Name: "Beta", Episodes: 12, Cover: "https://img/already.png"},
	}}
	meta := &fakeMetadata{covers: map[string]anilist.CoverInfo{
		"Alpha": {Cover: "https://img/alpha.png", Description: "alpha desc"},
	}}

	agg := newTestAggregator(catalog, meta, &fakeFallback{})
	results, err := agg.Search(context.Background(), "a", "sub")
	require.NoError(t, err)

	assert.Equal(t, "https://img/alpha.png", results[0].Cover)
	assert.Equal(t, "alpha desc", results[0].Description)
	// An existing cover is never replaced.
	assert.Equal(t, "https://img/already.png", results[1].Cover)
}

func TestSearchCoverCacheSpansQueries(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{results: []models.ShowSummary{
		{ID: "c1", Name: "Alpha", Episodes: 12},
	}}
	meta := &fakeMetadata{covers: map[string]anilist.CoverInfo{
		"Alpha": {Cover: "https://img/alpha.png"},
	}}

	agg := newTestAggregator(catalog, meta, &fakeFallback{})
	_, err := agg.Search(context.Background(), "a", "sub")
	require.NoError(t, err)
	_, err = agg.Search(context.Background(), "a", "sub")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.coverCalls)
}

func TestSearchAssignsFranchises(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{results: []models.ShowSummary{
		{ID: "c1", Name: "Attack on Titan", Episodes: 25, Cover: "x"},
		{ID: "c2", Name: "Attack on Titan Season 2", Episodes: 12, Cover: "x"},
		{ID: "c3", Name: "Unrelated Show", Episodes: 12, Cover: "x"},
	}}
	meta := &fakeMetadata{media: []anilist.Media{
		{
			ID:          100,
			TitleRomaji: "Attack on Titan",
			Relations: []anilist.Relation{
				{Type: "SEQUEL", ID: 200, TitleRomaji: "Attack on Titan Season 2"},
				{Type: "ADAPTATION", ID: 999, TitleRomaji: "Unrelated Show"},
			},
		},
		{ID: 300, TitleRomaji: "Unrelated Show"},
	}}

	agg := newTestAggregator(catalog, meta, &fakeFallback{})
	results, err := agg.Search(context.Background(), "titan", "sub")
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Sequel edge clusters the two seasons under the minimum id.
	assert.Equal(t, "100", results[0].FranchiseID)
	assert.Equal(t, "100", results[1].FranchiseID)
	// ADAPTATION is not a franchise edge and the show is alone in its
	// cluster, so it stays untagged.
	assert.Empty(t, results[2].FranchiseID)
}

func TestAnimeInfo(t *testing.T) {
	t.Parallel()

	t.Run("anilist first", func(t *testing.T) {
		meta := &fakeMetadata{
			info:   anilist.Info{Description: "from anilist", Score: 84, Genres: []string{"Action"}},
			infoOK: true,
		}
		fallback := &fakeFallback{}
		agg := newTestAggregator(&fakeCatalog{}, meta, fallback)

		info := agg.AnimeInfo(context.Background(), "Some Show")
		assert.Equal(t, "anilist", info.Source)
		assert.Equal(t, "from anilist", info.Description)
		assert.Equal(t, 84, info.Score)
		assert.Zero(t, fallback.calls)
	})

	t.Run("falls back to MAL when anilist is empty", func(t *testing.T) {
		meta := &fakeMetadata{infoOK: false}
		fallback := &fakeFallback{
			info: jikan.Info{Description: "from mal", Score: 79},
			ok:   true,
		}
		agg := newTestAggregator(&fakeCatalog{}, meta, fallback)

		info := agg.AnimeInfo(context.Background(), "Obscure Show")
		assert.Equal(t, "mal", info.Source)
		assert.Equal(t, "from mal", info.Description)
		assert.Equal(t, 79, info.Score)
	})

	t.Run("placeholder when both sources fail", func(t *testing.T) {
		meta := &fakeMetadata{infoErr: errors.New("down")}
		fallback := &fakeFallback{err: errors.New("down too")}
		agg := newTestAggregator(&fakeCatalog{}, meta, fallback)

		info := agg.AnimeInfo(context.Background(), "Ghost Show")
		assert.Empty(t, info.Source)
		assert.Empty(t, info.Description)
		assert.NotNil(t, info.Genres)
		assert.Empty(t, info.Genres)
	})

	t.Run("cached after first lookup", func(t *testing.T) {
		meta := &fakeMetadata{infoOK: false}
		fallback := &fakeFallback{info: jikan.Info{Description: "d"}, ok: true}
		agg := newTestAggregator(&fakeCatalog{}, meta, fallback)

		_ = agg.AnimeInfo(context.Background(), "Show")
		_ = agg.AnimeInfo(context.Background(), "Show")
		assert.Equal(t, 1, fallback.calls)
	})
}

func TestAiringSchedule(t *testing.T) {
	t.Parallel()

	meta := &fakeMetadata{schedule: []anilist.Schedule{
		{MediaID: 1, TitleEnglish: "English Name", TitleRomaji: "Romaji Name", Episode: 5, AiringAt: 1700000000},
		{MediaID: 2, TitleRomaji: "Romaji Only", Episode: 1, AiringAt: 1700003600},
		{MediaID: 3, Episode: 2, AiringAt: 1700007200},
	}}
	agg := newTestAggregator(&fakeCatalog{}, meta, &fakeFallback{})

	entries, err := agg.AiringSchedule(context.Background(), "2026-08-28")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "English Name", entries[0].Title)
	assert.Equal(t, "Romaji Only", entries[1].Title)
	assert.Equal(t, "Unknown", entries[2].Title)

	// Same day is served from cache.
	_, err = agg.AiringSchedule(context.Background(), "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.schedCalls)
}

func TestAiringScheduleRejectsBadDate(t *testing.T) {
	t.Parallel()

	agg := newTestAggregator(&fakeCatalog{}, &fakeMetadata{}, &fakeFallback{})
	_, err := agg.AiringSchedule(context.Background(), "28-08-2026")
	require.Error(t, err)
}

func TestDailyPopularFillsCovers(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{popular: []models.ShowSummary{
		{ID: "p1", Name: "Trendy", Episodes: 12},
	}}
	meta := &fakeMetadata{covers: map[string]anilist.CoverInfo{
		"Trendy": {Cover: "https://img/trendy.png"},
	}}
	agg := newTestAggregator(catalog, meta, &fakeFallback{})

	results, err := agg.DailyPopular(context.Background(), "sub")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://img/trendy.png", results[0].Cover)
}

func TestCorrectedTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "One Piece", correctedTitle("1P"))
	assert.Equal(t, "Naruto", correctedTitle("Naruto"))
}
