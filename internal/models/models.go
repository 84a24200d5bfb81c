// Package models defines the record shapes shared across the ani-mate core.
package models

// Kind classifies a show by how many episodes are available.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindShort  Kind = "short"
	KindSeries Kind = "series"
)

// KindForEpisodeCount derives the Kind from an episode count.
// The mapping is fixed: 1 episode is a movie, up to 12 a short, beyond
// that a series. Shows with zero episodes never reach callers of this.
func KindForEpisodeCount(n int) Kind {
	switch {
	case n == 1:
		return KindMovie
	case n <= 12:
		return KindShort
	default:
		return KindSeries
	}
}

// ShowSummary is one catalog search/trending result, optionally enriched
// with AniList metadata. Kind is always derived from Episodes via
// KindForEpisodeCount, never stored independently.
type ShowSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Episodes     int    `json:"episodes"`
	Kind         Kind   `json:"type"`
	Cover        string `json:"cover,omitempty"`
	Description  string `json:"description,omitempty"`
	TitleEnglish string `json:"title_english,omitempty"`
	AnilistID    int    `json:"anilist_id,omitempty"`
	Format       string `json:"format,omitempty"`
	FranchiseID  string `json:"franchise_id,omitempty"`
}

// ProviderLink is one playable candidate extracted from a provider.
// Resolution is free-form upstream text: a numeric height ("1080p"),
// "hls", "Mp4", "auto".
type ProviderLink struct {
	URL        string `json:"url"`
	Resolution string `json:"resolution"`
	Provider   string `json:"provider"`
}

// ResolvedStream is the outcome of link resolution: the selected link
// plus the full ranked list so playback can fall back on failure.
type ResolvedStream struct {
	URL        string         `json:"url"`
	Resolution string         `json:"resolution"`
	Provider   string         `json:"provider"`
	AllLinks   []ProviderLink `json:"all_links"`
}

// ScheduleEntry is one airing-schedule row from AniList.
type ScheduleEntry struct {
	AnilistID     int    `json:"anilist_id"`
	Title         string `json:"title"`
	TitleRomaji   string `json:"title_romaji,omitempty"`
	Episode       int    `json:"episode"`
	AiringAt      int64  `json:"airingAt"`
	Cover         string `json:"cover,omitempty"`
	Format        string `json:"format,omitempty"`
	TotalEpisodes int    `json:"totalEpisodes,omitempty"`
}

// AnimeInfo is the merged description/cover/genre record for a title.
// Source names which upstream supplied the data: "anilist", "mal", or
// "" when both came up empty.
type AnimeInfo struct {
	Description string   `json:"description"`
	Cover       string   `json:"cover"`
	Genres      []string `json:"genres"`
	Score       int      `json:"score"`
	Source      string   `json:"source"`
}
