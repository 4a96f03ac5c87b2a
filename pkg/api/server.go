// FlowMon Core
// Copyright (c) 2026 The FlowMon Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of FlowMon Core.
//
// FlowMon Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// FlowMon Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with FlowMon Core.  If not, see <http://www.gnu.org/licenses/>.

// Package api exposes the monitor core over HTTP and websocket. This is
// the seam the chart layer consumes; the GUI itself lives elsewhere.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/FlowMonProject/flowmon-core/pkg/api/models"
	"github.com/FlowMonProject/flowmon-core/pkg/config"
	"github.com/FlowMonProject/flowmon-core/pkg/export"
	"github.com/FlowMonProject/flowmon-core/pkg/render"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

// Monitor is the service surface the API depends on.
type Monitor interface {
	Status() models.StatusResponse
	Series() render.Series
	ExportCSV(w io.Writer) error
	SetRecording(enabled bool)
	Reset()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("error encoding response")
	}
}

func handleStatus(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, mon.Status())
	}
}

func handleSeries(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, mon.Series())
	}
}

func handleExport(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		filename := fmt.Sprintf("flow_data_%d.csv", time.Now().Unix())

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename="+filename)

		err := mon.ExportCSV(w)
		if errors.Is(err, export.ErrNoData) {
			w.Header().Del("Content-Disposition")
			writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "nothing to export"})
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("error exporting CSV")
		}
	}
}

func handleRecording(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
			return
		}

		mon.SetRecording(params.Enabled)
		writeJSON(w, http.StatusOK, mon.Status())
	}
}

func handleReset(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mon.Reset()
		writeJSON(w, http.StatusOK, mon.Status())
	}
}

func broadcastNotifications(session *melody.Melody, notifications <-chan models.Notification) {
	for n := range notifications {
		data, err := json.Marshal(n)
		if err != nil {
			log.Error().Err(err).Msg("error marshalling notification")
			continue
		}

		if err := session.Broadcast(data); err != nil {
			log.Debug().Err(err).Msg("error broadcasting notification")
		}
	}
}

// NewRouter builds the HTTP router. Split from Start so tests can drive
// it with httptest.
func NewRouter(mon Monitor, session *melody.Melody) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(middleware.Timeout(config.APIRequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api/status", handleStatus(mon))
	r.Get("/api/series", handleSeries(mon))
	r.Get("/api/export", handleExport(mon))
	r.Post("/api/recording", handleRecording(mon))
	r.Post("/api/reset", handleReset(mon))

	if session != nil {
		r.Get("/api/ws", func(w http.ResponseWriter, r *http.Request) {
			if err := session.HandleRequest(w, r); err != nil {
				log.Error().Err(err).Msg("handling websocket request")
			}
		})
	}

	return r
}

// Start serves the API until the process exits.
func Start(cfg *config.Instance, mon Monitor, notifications <-chan models.Notification) {
	session := melody.New()
	session.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	go broadcastNotifications(session, notifications)

	r := NewRouter(mon, session)

	addr := ":" + strconv.Itoa(cfg.APIPort())
	log.Info().Str("addr", addr).Msg("starting API server")

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.Error().Err(err).Msg("error starting http server")
	}
}
