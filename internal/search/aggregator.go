// Package search merges the AllAnime catalog with AniList metadata
// into one deduplicated, franchise-grouped result set.
package search

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/yasadev/ani-mate/internal/anilist"
	"github.com/yasadev/ani-mate/internal/jikan"
	"github.com/yasadev/ani-mate/internal/logger"
	"github.com/yasadev/ani-mate/internal/metacache"
	"github.com/yasadev/ani-mate/internal/models"
)

// Catalog is the primary-source surface the aggregator consumes.
type Catalog interface {
	Search(ctx context.Context, query, mode string) ([]models.ShowSummary, error)
	SearchLimited(ctx context.Context, query, mode string, limit int) ([]models.ShowSummary, error)
	DailyPopular(ctx context.Context, mode string) ([]models.ShowSummary, error)
}

// Metadata is the secondary-source surface (AniList).
type Metadata interface {
	Search(ctx context.Context, query string, limit int) ([]anilist.Media, error)
	CoverBatch(ctx context.Context, titles []string) (map[string]anilist.CoverInfo, error)
	AiringSchedule(ctx context.Context, dayStart, dayEnd int64) ([]anilist.Schedule, error)
	Info(ctx context.Context, title string) (anilist.Info, bool, error)
}

// InfoFallback is the tertiary source (Jikan/MAL), consulted only when
// the secondary source has no description.
type InfoFallback interface {
	Info(ctx context.Context, title string) (jikan.Info, bool, error)
}

// titleCorrections maps AllAnime names that never match AniList/MAL to
// searchable ones.
var titleCorrections = map[string]string{
	"1P": "One Piece",
}

// relation edge types that group shows into one franchise
var franchiseRelations = map[string]bool{
	"SEQUEL":      true,
	"PREQUEL":     true,
	"SIDE_STORY":  true,
	"SPIN_OFF":    true,
	"ALTERNATIVE": true,
	"PARENT":      true,
}

const secondarySearchLimit = 15

// Options tunes the aggregator's enrichment fan-out.
type Options struct {
	// SupplementalSearchCap bounds how many AniList-only titles get a
	// follow-up catalog search per query.
	SupplementalSearchCap int
	// CoverBatchLimit bounds how many cover-less results are sent to
	// the batched cover lookup.
	CoverBatchLimit int
	// FranchiseMinSize is the smallest relation cluster that gets
	// surfaced as a franchise; smaller clusters stay ungrouped.
	FranchiseMinSize int
	// Cache TTLs for successful and failed metadata lookups.
	CacheTTL     time.Duration
	CacheFailTTL time.Duration
	AiringTTL    time.Duration
}

// DefaultOptions mirror the upstream service's behavior.
func DefaultOptions() Options {
	return Options{
		SupplementalSearchCap: 3,
		CoverBatchLimit:       15,
		FranchiseMinSize:      2,
		CacheTTL:              time.Hour,
		CacheFailTTL:          5 * time.Minute,
		AiringTTL:             5 * time.Minute,
	}
}

// Aggregator combines primary catalog search with secondary metadata
// enrichment and franchise clustering. Only a primary-search failure
// is ever surfaced as an error; every enrichment step is best-effort.
type Aggregator struct {
	catalog  Catalog
	meta     Metadata
	fallback InfoFallback
	opts     Options

	covers *metacache.Cache[anilist.CoverInfo]
	info   *metacache.Cache[models.AnimeInfo]
	airing *metacache.Cache[[]models.ScheduleEntry]
}

// New creates an Aggregator with process-lifetime metadata caches.
func New(catalog Catalog, meta Metadata, fallback InfoFallback, opts Options) *Aggregator {
	return &Aggregator{
		catalog:  catalog,
		meta:     meta,
		fallback: fallback,
		opts:     opts,
		covers:   metacache.New[anilist.CoverInfo](opts.CacheTTL, opts.CacheFailTTL),
		info:     metacache.New[models.AnimeInfo](opts.CacheTTL, opts.CacheFailTTL),
		airing:   metacache.New[[]models.ScheduleEntry](opts.AiringTTL, opts.AiringTTL),
	}
}

// Search runs the dual-source search: primary catalog hits enriched
// with AniList titles/covers/descriptions, AniList-only titles
// supplementally searched on the catalog, covers batch-filled, and the
// whole batch franchise-clustered. The primary order (episode count
// descending) is preserved; adopted supplemental results append.
func (a *Aggregator) Search(ctx context.Context, query, mode string) ([]models.ShowSummary, error) {
	var (
		wg        sync.WaitGroup
		primary   []models.ShowSummary
		primErr   error
		secondary []anilist.Media
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		primary, primErr = a.catalog.Search(ctx, query, mode)
	}()
	go func() {
		defer wg.Done()
		media, err := a.meta.Search(ctx, query, secondarySearchLimit)
		if err != nil {
			logger.Debug("secondary search failed", "query", query, "err", err)
			return
		}
		secondary = media
	}()
	wg.Wait()
	if primErr != nil {
		return nil, primErr
	}

	results := primary
	claimed := make(map[string]bool, len(results))
	for _, r := range results {
		claimed[NormalizeTitle(r.Name)] = true
	}

	// Enrich catalog hits with AniList metadata on normalized-title
	// equality; populated fields are never overwritten.
	for i := range results {
		norm := NormalizeTitle(results[i].Name)
		for _, m := range secondary {
			if NormalizeTitle(m.TitleRomaji) != norm && NormalizeTitle(m.TitleEnglish) != norm {
				continue
			}
			enrich(&results[i], m)
			break
		}
	}

	results = a.adoptSecondaryOnly(ctx, results, secondary, claimed, mode)
	a.fillCovers(ctx, results)
	a.assignFranchises(results, secondary)

	return results, nil
}

func enrich(r *models.ShowSummary, m anilist.Media) {
	if r.TitleEnglish == "" {
		r.TitleEnglish = m.TitleEnglish
	}
	if r.Cover == "" {
		r.Cover = m.Cover
	}
	if r.Description == "" {
		r.Description = m.Description
	}
	if r.Format == "" {
		r.Format = m.Format
	}
	if r.AnilistID == 0 {
		r.AnilistID = m.ID
	}
}

// adoptSecondaryOnly finds AniList records with no catalog match and
// issues a bounded number of supplemental catalog searches for them,
// adopting the first unclaimed hit per record.
func (a *Aggregator) adoptSecondaryOnly(ctx context.Context, results []models.ShowSummary, secondary []anilist.Media, claimed map[string]bool, mode string) []models.ShowSummary {
	var unmatched []anilist.Media
	for _, m := range secondary {
		romaji, english := NormalizeTitle(m.TitleRomaji), NormalizeTitle(m.TitleEnglish)
		if (romaji != "" && claimed[romaji]) || (english != "" && claimed[english]) {
			continue
		}
		unmatched = append(unmatched, m)
	}
	if len(unmatched) > a.opts.SupplementalSearchCap {
		unmatched = unmatched[:a.opts.SupplementalSearchCap]
	}

	adopted := make([]*models.ShowSummary, len(unmatched))
	var wg sync.WaitGroup
	for i, m := range unmatched {
		wg.Add(1)
		go func(idx int, m anilist.Media) {
			defer wg.Done()
			name := m.TitleRomaji
			if name == "" {
				name = m.TitleEnglish
			}
			if name == "" {
				return
			}
			hits, err := a.catalog.SearchLimited(ctx, name, mode, 5)
			if err != nil {
				logger.Debug("supplemental search failed", "title", name, "err", err)
				return
			}
			// claimed is only written after the fan-out joins, so
			// reading it here is race-free.
			for _, hit := range hits {
				if claimed[NormalizeTitle(hit.Name)] {
					continue
				}
				show := hit
				show.TitleEnglish = m.TitleEnglish
				show.Cover = m.Cover
				show.Description = m.Description
				show.Format = m.Format
				show.AnilistID = m.ID
				adopted[idx] = &show
				break
			}
		}(i, m)
	}
	wg.Wait()

	for _, show := range adopted {
		if show == nil {
			continue
		}
		norm := NormalizeTitle(show.Name)
		if claimed[norm] {
			continue
		}
		claimed[norm] = true
		results = append(results, *show)
	}
	return results
}

// fillCovers batch-resolves covers for results that still lack one.
// Never fails the search.
func (a *Aggregator) fillCovers(ctx context.Context, results []models.ShowSummary) {
	var titles []string
	for _, r := range results {
		if r.Cover == "" && len(titles) < a.opts.CoverBatchLimit {
			titles = append(titles, correctedTitle(r.Name))
		}
	}
	if len(titles) == 0 {
		return
	}

	infos := a.covers.GetBatch(ctx, titles, a.meta.CoverBatch)
	for i := range results {
		if results[i].Cover != "" {
			continue
		}
		info, ok := infos[correctedTitle(results[i].Name)]
		if !ok {
			continue
		}
		results[i].Cover = info.Cover
		if results[i].Description == "" {
			results[i].Description = info.Description
		}
		if results[i].TitleEnglish == "" {
			results[i].TitleEnglish = info.TitleEnglish
		}
	}
}

// assignFranchises unions AniList relation edges into clusters and
// tags every result that maps into a cluster of at least
// FranchiseMinSize members with the cluster root id. Union completes
// for the whole batch before any assignment, so the outcome does not
// depend on result order.
func (a *Aggregator) assignFranchises(results []models.ShowSummary, secondary []anilist.Media) {
	index := make(map[string]int)
	register := func(title string, id int) {
		norm := NormalizeTitle(title)
		if norm == "" || id == 0 {
			return
		}
		if _, exists := index[norm]; !exists {
			index[norm] = id
		}
	}

	uf := newUnionFind()
	for _, m := range secondary {
		register(m.TitleRomaji, m.ID)
		register(m.TitleEnglish, m.ID)
		for _, rel := range m.Relations {
			if !franchiseRelations[rel.Type] {
				continue
			}
			register(rel.TitleRomaji, rel.ID)
			register(rel.TitleEnglish, rel.ID)
			uf.union(m.ID, rel.ID)
		}
	}

	// First pass: resolve each result to its cluster root.
	roots := make([]int, len(results))
	clusterSize := make(map[int]int)
	for i, r := range results {
		id, ok := index[NormalizeTitle(r.Name)]
		if !ok {
			id, ok = index[NormalizeTitle(r.TitleEnglish)]
		}
		if !ok {
			continue
		}
		root := uf.find(id)
		roots[i] = root
		clusterSize[root]++
	}

	for i := range results {
		root := roots[i]
		if root == 0 || clusterSize[root] < a.opts.FranchiseMinSize {
			continue
		}
		results[i].FranchiseID = strconv.Itoa(root)
	}
}

// DailyPopular returns today's trending shows with covers attached for
// the leading results.
func (a *Aggregator) DailyPopular(ctx context.Context, mode string) ([]models.ShowSummary, error) {
	results, err := a.catalog.DailyPopular(ctx, mode)
	if err != nil {
		return nil, err
	}
	a.fillCovers(ctx, results)
	return results, nil
}

// AiringSchedule returns the episodes airing on the given day
// (formatted 2006-01-02; empty means today), served from a short-TTL
// day-keyed cache.
func (a *Aggregator) AiringSchedule(ctx context.Context, date string) ([]models.ScheduleEntry, error) {
	day := time.Now()
	if date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			return nil, err
		}
		day = parsed
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.Local).Unix()
	key := day.Format("2006-01-02")

	entries, _ := a.airing.GetOrFetch(ctx, key, func(ctx context.Context) ([]models.ScheduleEntry, bool, error) {
		schedules, err := a.meta.AiringSchedule(ctx, dayStart, dayStart+86400)
		if err != nil {
			return nil, false, err
		}
		out := make([]models.ScheduleEntry, 0, len(schedules))
		for _, s := range schedules {
			title := s.TitleEnglish
			if title == "" {
				title = s.TitleRomaji
			}
			if title == "" {
				title = "Unknown"
			}
			out = append(out, models.ScheduleEntry{
				AnilistID:     s.MediaID,
				Title:         title,
				TitleRomaji:   s.TitleRomaji,
				Episode:       s.Episode,
				AiringAt:      s.AiringAt,
				Cover:         s.Cover,
				Format:        s.Format,
				TotalEpisodes: s.TotalEpisodes,
			})
		}
		return out, true, nil
	})
	return entries, nil
}

// AnimeInfo resolves the two-tier description lookup: AniList first,
// Jikan/MAL when AniList has no description, an all-empty placeholder
// when both fail. Never returns an error; the Source field records
// which upstream, if any, supplied data.
func (a *Aggregator) AnimeInfo(ctx context.Context, title string) models.AnimeInfo {
	info, ok := a.info.GetOrFetch(ctx, title, func(ctx context.Context) (models.AnimeInfo, bool, error) {
		searchTitle := correctedTitle(title)

		if primary, ok, err := a.meta.Info(ctx, searchTitle); err == nil && ok {
			return models.AnimeInfo{
				Description: primary.Description,
				Cover:       primary.Cover,
				Genres:      primary.Genres,
				Score:       primary.Score,
				Source:      "anilist",
			}, true, nil
		} else if err != nil {
			logger.Debug("anilist info failed", "title", title, "err", err)
		}

		if fb, ok, err := a.fallback.Info(ctx, searchTitle); err == nil && ok {
			return models.AnimeInfo{
				Description: fb.Description,
				Cover:       fb.Cover,
				Genres:      fb.Genres,
				Score:       fb.Score,
				Source:      "mal",
			}, true, nil
		} else if err != nil {
			logger.Debug("jikan info failed", "title", title, "err", err)
		}

		return models.AnimeInfo{}, false, nil
	})
	if !ok {
		return models.AnimeInfo{Genres: []string{}}
	}
	if info.Genres == nil {
		info.Genres = []string{}
	}
	return info
}

func correctedTitle(title string) string {
	if fixed, ok := titleCorrections[title]; ok {
		return fixed
	}
	return title
}
