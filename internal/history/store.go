// Package history persists watch progress and favorites in a local
// SQLite database.
package history

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// maxEntries caps the history table; the oldest rows beyond it are
// dropped on insert.
const maxEntries = 100

// resumeThresholdSeconds is the minimum saved position worth resuming
// from; anything shorter restarts the episode.
const resumeThresholdSeconds = 10

// Entry is one watch-history row.
type Entry struct {
	AnimeID         string   `json:"anime_id"`
	Title           string   `json:"title"`
	Episode         string   `json:"episode"`
	Quality         string   `json:"quality"`
	Mode            string   `json:"mode"`
	EpisodesWatched []string `json:"episodes_watched"`
	TotalEpisodes   int      `json:"total_episodes,omitempty"`
	PlaybackTime    float64  `json:"playback_time"`
	PlaybackEpisode string   `json:"playback_episode,omitempty"`
	UpdatedAt       int64    `json:"timestamp"`
}

// ContinueEntry is a history row projected into "what to watch next".
type ContinueEntry struct {
	AnimeID         string   `json:"anime_id"`
	Title           string   `json:"title"`
	Episode         string   `json:"episode"`
	EpisodesWatched []string `json:"episodes_watched"`
	TotalEpisodes   int      `json:"total_episodes,omitempty"`
	NextEpisode     int      `json:"next_episode"`
	ResumeEpisode   string   `json:"resume_episode"`
	ResumeTime      float64  `json:"resume_time"`
	Mode            string   `json:"mode"`
	UpdatedAt       int64    `json:"timestamp"`
}

// Favorite is one bookmarked show.
type Favorite struct {
	AnimeID  string `json:"id"`
	Name     string `json:"name"`
	Episodes int    `json:"episodes"`
	AddedAt  int64  `json:"added"`
}

// PlayEvent carries the metadata recorded when playback starts.
type PlayEvent struct {
	AnimeID       string
	Title         string
	Episode       string
	Quality       string
	Mode          string
	TotalEpisodes int
}

// Store wraps the SQLite database holding history and favorites.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS watch_history (
	anime_id         TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	episode          TEXT NOT NULL,
	quality          TEXT NOT NULL DEFAULT 'best',
	mode             TEXT NOT NULL DEFAULT 'sub',
	episodes_watched TEXT NOT NULL DEFAULT '[]',
	total_episodes   INTEGER NOT NULL DEFAULT 0,
	playback_time    REAL NOT NULL DEFAULT 0,
	playback_episode TEXT NOT NULL DEFAULT '',
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_updated ON watch_history(updated_at);

CREATE TABLE IF NOT EXISTS favorites (
	anime_id TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	episodes INTEGER NOT NULL DEFAULT 0,
	added_at INTEGER NOT NULL
);
`

// Open creates or opens the database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "history: create data directory")
	}

	dsn := "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "history: open database")
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "history: create schema")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Touch upserts the history row for a started playback without
// marking the episode as watched; the client reports completion
// separately once the watch threshold is crossed.
func (s *Store) Touch(ev PlayEvent) error {
	if ev.Quality == "" {
		ev.Quality = "best"
	}
	if ev.Mode == "" {
		ev.Mode = "sub"
	}
	_, err := s.db.Exec(`INSERT INTO watch_history
		(anime_id, title, episode, quality, mode, total_episodes, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(anime_id) DO UPDATE SET
			title = excluded.title,
			episode = excluded.episode,
			quality = excluded.quality,
			mode = excluded.mode,
			total_episodes = CASE WHEN excluded.total_episodes > 0
				THEN excluded.total_episodes ELSE watch_history.total_episodes END,
			updated_at = excluded.updated_at`,
		ev.AnimeID, ev.Title, ev.Episode, ev.Quality, ev.Mode, ev.TotalEpisodes, s.now().Unix())
	if err != nil {
		return errors.Wrap(err, "history: upsert entry")
	}
	return s.prune()
}

// prune keeps the table at maxEntries rows, dropping the oldest.
func (s *Store) prune() error {
	_, err := s.db.Exec(`DELETE FROM watch_history WHERE anime_id IN (
		SELECT anime_id FROM watch_history
		ORDER BY updated_at DESC LIMIT -1 OFFSET ?)`, maxEntries)
	return errors.Wrap(err, "history: prune")
}

// MarkWatched adds episode to the watched set and clears the saved
// playback position.
func (s *Store) MarkWatched(animeID, episode string) error {
	watched, err := s.watchedSet(animeID)
	if err != nil {
		return err
	}
	if watched == nil {
		return nil
	}
	if !contains(watched, episode) {
		watched = append(watched, episode)
	}
	encoded, err := json.Marshal(watched)
	if err != nil {
		return errors.Wrap(err, "history: encode watched set")
	}
	_, err = s.db.Exec(`UPDATE watch_history SET
		episodes_watched = ?, playback_time = 0, playback_episode = ''
		WHERE anime_id = ?`, string(encoded), animeID)
	return errors.Wrap(err, "history: mark watched")
}

// SaveProgress stores the playback position for resuming later.
func (s *Store) SaveProgress(animeID, episode string, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	_, err := s.db.Exec(`UPDATE watch_history SET
		playback_time = ?, playback_episode = ?
		WHERE anime_id = ?`, seconds, episode, animeID)
	return errors.Wrap(err, "history: save progress")
}

func (s *Store) watchedSet(animeID string) ([]string, error) {
	var raw string
	err := s.db.QueryRow(`SELECT episodes_watched FROM watch_history WHERE anime_id = ?`, animeID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "history: load watched set")
	}
	var watched []string
	if err := json.Unmarshal([]byte(raw), &watched); err != nil {
		watched = nil
	}
	if watched == nil {
		watched = []string{}
	}
	return watched, nil
}

// History returns every entry, most recently updated first.
func (s *Store) History() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT anime_id, title, episode, quality, mode,
		episodes_watched, total_episodes, playback_time, playback_episode, updated_at
		FROM watch_history ORDER BY updated_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "history: query entries")
	}
	defer rows.Close()

	entries := make([]Entry, 0, 16)
	for rows.Next() {
		var e Entry
		var watched string
		if err := rows.Scan(&e.AnimeID, &e.Title, &e.Episode, &e.Quality, &e.Mode,
			&watched, &e.TotalEpisodes, &e.PlaybackTime, &e.PlaybackEpisode, &e.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "history: scan entry")
		}
		if err := json.Unmarshal([]byte(watched), &e.EpisodesWatched); err != nil {
			e.EpisodesWatched = []string{}
		}
		if e.EpisodesWatched == nil {
			e.EpisodesWatched = []string{}
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "history: iterate entries")
}

// ContinueList projects history into resumable entries: shows with
// unwatched episodes left, each with the next episode to watch or the
// saved resume position.
func (s *Store) ContinueList() ([]ContinueEntry, error) {
	entries, err := s.History()
	if err != nil {
		return nil, err
	}

	out := make([]ContinueEntry, 0, len(entries))
	for _, e := range entries {
		// Unknown totals always show; known totals hide finished shows.
		if e.TotalEpisodes > 0 && len(e.EpisodesWatched) >= e.TotalEpisodes {
			continue
		}

		maxWatched := 0.0
		for _, token := range e.EpisodesWatched {
			if n, err := strconv.ParseFloat(token, 64); err == nil && n > maxWatched {
				maxWatched = n
			}
		}
		next := int(maxWatched) + 1

		resumeEpisode := strconv.Itoa(next)
		resumeTime := 0.0
		if e.PlaybackTime > resumeThresholdSeconds {
			resumeTime = e.PlaybackTime
			if e.PlaybackEpisode != "" {
				resumeEpisode = e.PlaybackEpisode
			} else {
				resumeEpisode = e.Episode
			}
		}

		out = append(out, ContinueEntry{
			AnimeID:         e.AnimeID,
			Title:           e.Title,
			Episode:         e.Episode,
			EpisodesWatched: e.EpisodesWatched,
			TotalEpisodes:   e.TotalEpisodes,
			NextEpisode:     next,
			ResumeEpisode:   resumeEpisode,
			ResumeTime:      resumeTime,
			Mode:            e.Mode,
			UpdatedAt:       e.UpdatedAt,
		})
	}
	return out, nil
}

// Remove deletes one show from history.
func (s *Store) Remove(animeID string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM watch_history WHERE anime_id = ?`, animeID)
	if err != nil {
		return false, errors.Wrap(err, "history: remove entry")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AddFavorite bookmarks a show; adding an existing favorite is a
// no-op.
func (s *Store) AddFavorite(f Favorite) error {
	_, err := s.db.Exec(`INSERT INTO favorites (anime_id, name, episodes, added_at)
		VALUES (?,?,?,?) ON CONFLICT(anime_id) DO NOTHING`,
		f.AnimeID, f.Name, f.Episodes, s.now().Unix())
	return errors.Wrap(err, "history: add favorite")
}

// Favorites returns every bookmark, most recently added first.
func (s *Store) Favorites() ([]Favorite, error) {
	rows, err := s.db.Query(`SELECT anime_id, name, episodes, added_at
		FROM favorites ORDER BY added_at DESC, anime_id`)
	if err != nil {
		return nil, errors.Wrap(err, "history: query favorites")
	}
	defer rows.Close()

	favs := make([]Favorite, 0, 8)
	for rows.Next() {
		var f Favorite
		if err := rows.Scan(&f.AnimeID, &f.Name, &f.Episodes, &f.AddedAt); err != nil {
			return nil, errors.Wrap(err, "history: scan favorite")
		}
		favs = append(favs, f)
	}
	sort.SliceStable(favs, func(i, j int) bool { return favs[i].AddedAt > favs[j].AddedAt })
	return favs, errors.Wrap(rows.Err(), "history: iterate favorites")
}

// RemoveFavorite deletes one bookmark.
func (s *Store) RemoveFavorite(animeID string) error {
	_, err := s.db.Exec(`DELETE FROM favorites WHERE anime_id = ?`, animeID)
	return errors.Wrap(err, "history: remove favorite")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
