// Package server exposes the ani-mate core over a local HTTP API. The
// routes mirror what the bundled UI and mobile client expect.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/yasadev/ani-mate/internal/allanime"
	"github.com/yasadev/ani-mate/internal/history"
	"github.com/yasadev/ani-mate/internal/logger"
	"github.com/yasadev/ani-mate/internal/models"
	"github.com/yasadev/ani-mate/internal/version"
)

const maxRequestBody = 1 << 20

// Searcher aggregates catalog and metadata lookups.
type Searcher interface {
	Search(ctx context.Context, query, mode string) ([]models.ShowSummary, error)
	DailyPopular(ctx context.Context, mode string) ([]models.ShowSummary, error)
	AiringSchedule(ctx context.Context, date string) ([]models.ScheduleEntry, error)
	AnimeInfo(ctx context.Context, title string) models.AnimeInfo
}

// EpisodeSource lists and resolves episodes for a show.
type EpisodeSource interface {
	EpisodeList(ctx context.Context, showID, mode string) ([]string, error)
	Resolve(ctx context.Context, showID, episode, mode, quality string) (*models.ResolvedStream, error)
}

// episodeBackend pairs the catalog's episode listing with the stream
// resolver behind one interface.
type episodeBackend struct {
	catalog  *allanime.Client
	resolver *allanime.Resolver
}

func (b episodeBackend) EpisodeList(ctx context.Context, showID, mode string) ([]string, error) {
	return b.catalog.EpisodeList(ctx, showID, mode)
}

func (b episodeBackend) Resolve(ctx context.Context, showID, episode, mode, quality string) (*models.ResolvedStream, error) {
	return b.resolver.Resolve(ctx, showID, episode, mode, quality)
}

// Server routes API requests to the search aggregator, the episode
// backend, and the history store.
type Server struct {
	searcher Searcher
	episodes EpisodeSource
	store    *history.Store
	started  time.Time
	handler  http.Handler
}

// New assembles the HTTP handler for the given backends.
func New(searcher Searcher, catalog *allanime.Client, resolver *allanime.Resolver, store *history.Store) *Server {
	s := &Server{
		searcher: searcher,
		episodes: episodeBackend{catalog: catalog, resolver: resolver},
		store:    store,
		started:  time.Now(),
	}
	s.handler = s.buildHandler()
	return s
}

// NewWithBackends is New with the episode backend injected directly;
// tests use it to fake episode resolution.
func NewWithBackends(searcher Searcher, episodes EpisodeSource, store *history.Store) *Server {
	s := &Server{
		searcher: searcher,
		episodes: episodes,
		store:    store,
		started:  time.Now(),
	}
	s.handler = s.buildHandler()
	return s
}

func (s *Server) buildHandler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/episodes", s.handleEpisodes).Methods(http.MethodGet)
	r.HandleFunc("/play", s.handlePlay).Methods(http.MethodPost)
	r.HandleFunc("/daily", s.handleDaily).Methods(http.MethodGet)
	r.HandleFunc("/releases", s.handleReleases).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	r.HandleFunc("/save-progress", s.handleSaveProgress).Methods(http.MethodPost)
	r.HandleFunc("/mark-watched", s.handleMarkWatched).Methods(http.MethodPost)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/history/remove", s.handleHistoryRemove).Methods(http.MethodGet)
	r.HandleFunc("/continue", s.handleContinue).Methods(http.MethodGet)

	r.HandleFunc("/favorites", s.handleFavoritesList).Methods(http.MethodGet)
	r.HandleFunc("/favorites", s.handleFavoritesAdd).Methods(http.MethodPost)
	r.HandleFunc("/favorites/{id}", s.handleFavoritesRemove).Methods(http.MethodDelete)

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found", "path": req.URL.Path})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debugf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, req *http.Request, dst interface{}) bool {
	defer req.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func modeParam(req *http.Request) string {
	if m := req.URL.Query().Get("mode"); m == "dub" {
		return "dub"
	}
	return "sub"
}

func (s *Server) handleSearch(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, `Missing search query parameter "q"`)
		return
	}
	mode := modeParam(req)

	results, err := s.searcher.Search(req.Context(), q, mode)
	if err != nil {
		logger.Errorf("server: search %q: %v", q, err)
		writeError(w, http.StatusBadGateway, "Search failed")
		return
	}
	if results == nil {
		results = []models.ShowSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"query":   q,
		"mode":    mode,
	})
}

func (s *Server) handleEpisodes(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, `Missing anime ID parameter "id"`)
		return
	}
	mode := modeParam(req)

	episodes, err := s.episodes.EpisodeList(req.Context(), id, mode)
	if err != nil {
		logger.Errorf("server: episodes %s: %v", id, err)
		writeError(w, http.StatusBadGateway, "Episode list failed")
		return
	}
	if episodes == nil {
		episodes = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anime_id": id,
		"episodes": episodes,
		"mode":     mode,
	})
}

// episodeString accepts the episode field as either a JSON string or a
// number; clients send both.
func episodeString(v interface{}) string {
	switch e := v.(type) {
	case string:
		return e
	case float64:
		return strconv.FormatFloat(e, 'f', -1, 64)
	}
	return ""
}

type playRequest struct {
	AnimeID       string      `json:"anime_id"`
	Episode       interface{} `json:"episode"`
	Title         string      `json:"title"`
	Quality       string      `json:"quality"`
	Mode          string      `json:"mode"`
	SubOrDub      string      `json:"sub_or_dub"`
	TotalEpisodes int         `json:"total_episodes"`
}

func (s *Server) handlePlay(w http.ResponseWriter, req *http.Request) {
	var params playRequest
	if !decodeBody(w, req, &params) {
		return
	}
	episode := episodeString(params.Episode)
	if params.AnimeID == "" || episode == "" {
		writeError(w, http.StatusBadRequest, "Missing anime_id or episode")
		return
	}

	quality := params.Quality
	if quality == "" {
		quality = "best"
	}
	mode := params.SubOrDub
	if mode == "" {
		mode = params.Mode
	}
	if mode != "dub" {
		mode = "sub"
	}

	stream, err := s.episodes.Resolve(req.Context(), params.AnimeID, episode, mode, quality)
	if err != nil {
		logger.Errorf("server: play %s ep %s: %v", params.AnimeID, episode, err)
		writeError(w, http.StatusBadGateway, "Stream resolution failed")
		return
	}
	if stream == nil {
		writeError(w, http.StatusNotFound, "Could not find episode stream URL")
		return
	}

	title := params.Title
	if title == "" {
		title = "Unknown"
	}
	// Record metadata only; the client calls /mark-watched once the
	// watch threshold is crossed.
	if err := s.store.Touch(history.PlayEvent{
		AnimeID:       params.AnimeID,
		Title:         title,
		Episode:       episode,
		Quality:       quality,
		Mode:          mode,
		TotalEpisodes: params.TotalEpisodes,
	}); err != nil {
		logger.Warnf("server: record history: %v", err)
	}

	playTitle := title
	if playTitle == "Unknown" {
		playTitle = "Anime"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "playing",
		"stream_url": stream.URL,
		"resolution": stream.Resolution,
		"provider":   stream.Provider,
		"all_links":  stream.AllLinks,
		"title":      playTitle + " - Episode " + episode,
	})
}

type progressRequest struct {
	AnimeID      string      `json:"anime_id"`
	Episode      interface{} `json:"episode"`
	PlaybackTime float64     `json:"playback_time"`
}

func (s *Server) handleSaveProgress(w http.ResponseWriter, req *http.Request) {
	var params progressRequest
	if !decodeBody(w, req, &params) {
		return
	}
	episode := episodeString(params.Episode)
	if params.AnimeID == "" || episode == "" {
		writeError(w, http.StatusBadRequest, "Missing anime_id or episode")
		return
	}
	if err := s.store.SaveProgress(params.AnimeID, episode, params.PlaybackTime); err != nil {
		logger.Warnf("server: save progress: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleMarkWatched(w http.ResponseWriter, req *http.Request) {
	var params progressRequest
	if !decodeBody(w, req, &params) {
		return
	}
	episode := episodeString(params.Episode)
	if params.AnimeID == "" || episode == "" {
		writeError(w, http.StatusBadRequest, "Missing anime_id or episode")
		return
	}
	if err := s.store.MarkWatched(params.AnimeID, episode); err != nil {
		logger.Warnf("server: mark watched: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "marked"})
}

func (s *Server) handleHistory(w http.ResponseWriter, req *http.Request) {
	entries, err := s.store.History()
	if err != nil {
		logger.Errorf("server: load history: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryRemove(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing id parameter")
		return
	}
	removed, err := s.store.Remove(id)
	if err != nil {
		logger.Errorf("server: remove history %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to update history")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Not found in history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "anime_id": id})
}

func (s *Server) handleContinue(w http.ResponseWriter, req *http.Request) {
	list, err := s.store.ContinueList()
	if err != nil {
		logger.Errorf("server: continue list: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"continue_list": list})
}

func (s *Server) handleDaily(w http.ResponseWriter, req *http.Request) {
	mode := modeParam(req)
	results, err := s.searcher.DailyPopular(req.Context(), mode)
	if err != nil {
		logger.Errorf("server: daily popular: %v", err)
		writeError(w, http.StatusBadGateway, "Trending lookup failed")
		return
	}
	if results == nil {
		results = []models.ShowSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results, "mode": mode})
}

func (s *Server) handleReleases(w http.ResponseWriter, req *http.Request) {
	date := req.URL.Query().Get("date")
	results, err := s.searcher.AiringSchedule(req.Context(), date)
	if err != nil {
		logger.Errorf("server: airing schedule: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch airing schedule")
		return
	}
	if results == nil {
		results = []models.ScheduleEntry{}
	}
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results, "date": date})
}

func (s *Server) handleInfo(w http.ResponseWriter, req *http.Request) {
	title := req.URL.Query().Get("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "Missing title parameter")
		return
	}
	writeJSON(w, http.StatusOK, s.searcher.AnimeInfo(req.Context(), title))
}

func (s *Server) handleFavoritesList(w http.ResponseWriter, req *http.Request) {
	favs, err := s.store.Favorites()
	if err != nil {
		logger.Errorf("server: load favorites: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load favorites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"favorites": favs})
}

type favoriteRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Episodes int    `json:"episodes"`
}

func (s *Server) handleFavoritesAdd(w http.ResponseWriter, req *http.Request) {
	var item favoriteRequest
	if !decodeBody(w, req, &item) {
		return
	}
	if item.ID == "" || item.Name == "" {
		writeError(w, http.StatusBadRequest, "Missing id or name")
		return
	}
	if err := s.store.AddFavorite(history.Favorite{
		AnimeID:  item.ID,
		Name:     item.Name,
		Episodes: item.Episodes,
	}); err != nil {
		logger.Errorf("server: add favorite: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save favorite")
		return
	}
	favs, err := s.store.Favorites()
	if err != nil {
		favs = nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "added", "favorites": favs})
}

func (s *Server) handleFavoritesRemove(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if err := s.store.RemoveFavorite(id); err != nil {
		logger.Errorf("server: remove favorite: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to update favorites")
		return
	}
	favs, err := s.store.Favorites()
	if err != nil {
		favs = nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "removed", "favorites": favs})
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "online",
		"server":    "ANI-MATE",
		"version":   version.Version,
		"uptime":    time.Since(s.started).Seconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
