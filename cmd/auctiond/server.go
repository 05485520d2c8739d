package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/gavelhq/gavel/internal/auction"
	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/gateway"
)

func setupServer(cfg *config.Config, session *auction.Session, wsHandler *gateway.WebSocketHandler) *http.Server {
	mux := http.NewServeMux()

	// WebSocket routes
	wsHandler.RegisterRoutes(mux)

	// Health check with lobby headcount
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"Auction Server Running","users":%d}`, session.ParticipantCount())
	})

	// Administrative triggers route through the same round contract as
	// client-originated start requests.
	mux.HandleFunc("/api/start-auction", adminStartHandler(session))
	mux.HandleFunc("/api/end-auction", adminEndHandler(session))

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     c.Handler(mux),
		IdleTimeout: 120 * time.Second,
	}
}

func adminStartHandler(session *auction.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := session.StartRound(); err != nil {
			if errors.Is(err, auction.ErrRoundActive) {
				w.WriteHeader(http.StatusConflict)
				fmt.Fprint(w, `{"success":false,"message":"Auction already active"}`)
				return
			}
			log.Error().Err(err).Msg("admin start failed")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"success":false,"message":"internal error"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"message":"Auction started"}`)
	}
}

func adminEndHandler(session *auction.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := session.ForceEnd(); err != nil {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"success":false,"message":"No auction in progress"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"message":"Auction ended"}`)
	}
}
