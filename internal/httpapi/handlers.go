package httpapi

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/DoyleJ11/bubble-arena/internal/lobby"
)

// StateSource is satisfied by *lobby.Lobby.
type StateSource interface {
	State(ctx context.Context) (lobby.View, error)
}

const stateTimeout = 2 * time.Second

type StatsResponse struct {
	Sessions int `json:"sessions"`
	Players  int `json:"players"`
	Bubbles  int `json:"bubbles"`
	Locked   int `json:"locked"`
}

type ScoreEntry struct {
	PlayerID string `json:"player_id"`
	Score    int    `json:"score"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func Stats(src StateSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := fetch(w, r, src)
		if !ok {
			return
		}
		resp := StatsResponse{
			Sessions: view.NumClients,
			Players:  len(view.Players),
			Bubbles:  len(view.Bubbles),
		}
		for _, b := range view.Bubbles {
			if b.Locked() {
				resp.Locked++
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Scoreboard lists players by score, highest first.
func Scoreboard(src StateSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := fetch(w, r, src)
		if !ok {
			return
		}
		board := make([]ScoreEntry, 0, len(view.Players))
		for id, score := range view.Players {
			board = append(board, ScoreEntry{PlayerID: id, Score: score})
		}
		slices.SortFunc(board, func(a, b ScoreEntry) int {
			if c := cmp.Compare(b.Score, a.Score); c != 0 {
				return c
			}
			return cmp.Compare(a.PlayerID, b.PlayerID)
		})
		writeJSON(w, http.StatusOK, board)
	}
}

func fetch(w http.ResponseWriter, r *http.Request, src StateSource) (lobby.View, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), stateTimeout)
	defer cancel()
	view, err := src.State(ctx)
	if err != nil {
		http.Error(w, "arena unavailable", http.StatusServiceUnavailable)
		return lobby.View{}, false
	}
	return view, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
