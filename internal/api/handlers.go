package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mangadrop/internal/distribution"
)

const maxRequestBytes = 4 << 10

type rollRequest struct {
	UserID string `json:"user_id"`
}

type rollItemPayload struct {
	ID       int      `json:"id"`
	Title    string   `json:"title"`
	URL      string   `json:"url,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Synopsis string   `json:"synopsis,omitempty"`
	Score    float64  `json:"score,omitempty"`
	Status   string   `json:"status"`
	Genres   []string `json:"genres,omitempty"`
}

type rollResponse struct {
	PostingID        string          `json:"posting_id"`
	ExpiresInSeconds int             `json:"expires_in_seconds"`
	Item             rollItemPayload `json:"item"`
	DisplayValue     float64         `json:"display_value"`
	Remaining        int             `json:"remaining"`
}

type claimRequest struct {
	PostingID string `json:"posting_id"`
	UserID    string `json:"user_id"`
}

type claimResponse struct {
	ItemID  int     `json:"item_id"`
	Title   string  `json:"title"`
	Reward  float64 `json:"reward"`
	Balance float64 `json:"balance"`
}

type postingResponse struct {
	PostingID string `json:"posting_id"`
	ItemID    int    `json:"item_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	State     string `json:"state"`
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	var req rollRequest
	if err := decodeJSON(w, r, &req, maxRequestBytes); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	postingID := uuid.NewString()
	result, err := s.service.Roll(r.Context(), req.UserID, postingID)
	switch result.Outcome {
	case distribution.RollIssued:
		item := result.Item
		writeJSON(w, http.StatusOK, rollResponse{
			PostingID:        result.Posting.ID,
			ExpiresInSeconds: int(s.cfg.PostingExpiration / time.Second),
			Item: rollItemPayload{
				ID:       item.ID,
				Title:    item.Title,
				URL:      item.URL,
				ImageURL: item.ImageURL,
				Synopsis: item.Synopsis,
				Score:    item.Score,
				Status:   string(item.Status),
				Genres:   item.Genres,
			},
			DisplayValue: result.DisplayValue,
			Remaining:    result.Remaining,
		})
	case distribution.RollRateLimited:
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "rate_limited",
			"retry_after_seconds": int(result.RetryAfter/time.Second) + 1,
		})
	default:
		logErr := "upstream_unavailable"
		if err == nil {
			logErr = "unknown_outcome"
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": logErr})
	}
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req, maxRequestBytes); err != nil || req.PostingID == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	result, _ := s.service.Claim(r.Context(), req.PostingID, req.UserID)
	switch result.Outcome {
	case distribution.ClaimAwarded:
		writeJSON(w, http.StatusOK, claimResponse{
			ItemID:  result.ItemID,
			Title:   result.Title,
			Reward:  result.Reward,
			Balance: result.Balance,
		})
	case distribution.ClaimTooSoon:
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "claim_too_soon",
			"retry_after_seconds": int(result.RetryAfter/time.Second) + 1,
		})
	case distribution.ClaimExpired:
		writeJSON(w, http.StatusGone, map[string]string{"error": "expired"})
	case distribution.ClaimNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream_unavailable"})
	}
}

func (s *Server) handleGetPosting(w http.ResponseWriter, r *http.Request) {
	postingID := chi.URLParam(r, "postingID")
	view, ok := s.service.Posting(postingID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, postingResponse{
		PostingID: view.ID,
		ItemID:    view.ItemID,
		Title:     view.Title,
		CreatedAt: view.CreatedAt.UTC().Format(time.RFC3339),
		State:     view.State,
	})
}

type collectionEntry struct {
	ItemID   int    `json:"item_id"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := queryInt(r, "limit", 25, 100)
	offset := queryInt(r, "offset", 0, 0)

	ids, err := s.store.ClaimsForUser(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
		return
	}

	total := len(ids)
	if offset > total {
		offset = total
	}
	page := ids[offset:]
	if len(page) > limit {
		page = page[:limit]
	}

	entries := make([]collectionEntry, 0, len(page))
	for _, id := range page {
		entry := collectionEntry{ItemID: id}
		// Usually a cache hit; a cold catalog miss degrades to a bare ID
		// rather than failing the whole page.
		if item, err := s.catalog.FetchByID(r.Context(), id); err == nil {
			entry.Title = item.Title
			entry.URL = item.URL
			entry.ImageURL = item.ImageURL
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"total":   total,
		"offset":  offset,
		"items":   entries,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	snapshot, err := s.economy.Balance(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"balance":      snapshot.Balance,
		"total_earned": snapshot.TotalEarned,
	})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	result, err := s.economy.Daily(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
		return
	}
	if !result.Granted {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"granted":             false,
			"retry_after_seconds": int(result.RetryAfter/time.Second) + 1,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"granted": true,
		"amount":  result.Amount,
		"balance": result.Balance,
	})
}

func (s *Server) handleClaimRanking(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10, 100)
	entries, err := s.store.RankingByUniqueClaims(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleBalanceRanking(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10, 100)
	entries, err := s.economy.Ranking(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.version})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.liveness != nil && s.cfg.RegistrySweepInterval > 0 {
		now := s.clock.Now()
		stale := 2 * s.cfg.RegistrySweepInterval
		last := s.liveness.LastSweep()
		sinceStart := now.Sub(s.startedAt)
		if last.IsZero() && sinceStart > stale {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sweeper_stalled"})
			return
		}
		if !last.IsZero() && now.Sub(last) > stale {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sweeper_stalled"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleStatsz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"version":        s.version,
		"uptime_seconds": int(s.clock.Now().Sub(s.startedAt) / time.Second),
	}
	if s.metrics != nil {
		payload["counters"] = s.metrics.Snapshot()
	}
	if s.stats != nil {
		if quota, err := s.stats.Snapshot(r.Context()); err == nil {
			payload["quota"] = quota
		}
	}
	writeJSON(w, http.StatusOK, payload)
}
