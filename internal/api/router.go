// Package api serves a read-only JSON view of the running bot.
package api

import (
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"

	"meanrev/internal/model"
	"meanrev/internal/position"
	"meanrev/internal/scheduler"
)

// Book is the part of the position book the API reads.
type Book interface {
	OpenPositions() []position.Position
	Trades() []model.TradeRecord
}

// NewRouter sets up the routes:
//
//	GET /api/v1/health
//	GET /api/v1/status
//	GET /api/v1/positions
//	GET /api/v1/trades?limit=N   (most recent N, default all)
func NewRouter(status scheduler.StatusFunc, book Book) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, status())
	})

	mux.HandleFunc("/api/v1/positions", func(w http.ResponseWriter, r *http.Request) {
		open := book.OpenPositions()
		if open == nil {
			open = []position.Position{}
		}
		writeJSON(w, http.StatusOK, open)
	})

	mux.HandleFunc("/api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		trades := book.Trades()
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
				return
			}
			if n < len(trades) {
				trades = trades[len(trades)-n:]
			}
		}
		if trades == nil {
			trades = []model.TradeRecord{}
		}
		writeJSON(w, http.StatusOK, trades)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
