// ABOUTME: HTTP handlers for the development backend's generation, application and session routes.
// ABOUTME: Streaming routes answer with text/event-stream and one "generation" event per snapshot.
package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389-research/kiwi/exchange"
	"github.com/2389-research/kiwi/sse"
	"github.com/go-chi/chi/v5"
)

const generationEvent = "generation"

const devToken = "dev-token"

type generateBody struct {
	Prompt             string   `json:"prompt"`
	AppID              string   `json:"appId"`
	AttachmentURLs     []string `json:"attachmentUrls"`
	SkipPageGeneration bool     `json:"skipPageGeneration"`
}

type exchangeIDBody struct {
	ExchangeID string `json:"exchangeId"`
}

type historyBody struct {
	AppID    string `json:"appId"`
	Prompt   string `json:"prompt"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

type searchBody struct {
	Name     string `json:"name"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserName string `json:"userName"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.UserName == "" || body.Password != s.cfg.Password {
		writeError(w, http.StatusUnauthorized, "invalid user name or password")
		return
	}
	token := s.cfg.Token
	if token == "" {
		token = devToken
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prompt := strings.TrimSpace(body.Prompt)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt must not be empty")
		return
	}

	appID := body.AppID
	if appID == "" {
		appID = s.store.CreateApplication(exchange.Application{OwnerID: DevUserID}).ID
		s.logger.Printf("component=devserver action=create_app app=%s", appID)
	} else if _, ok := s.store.Application(appID); !ok {
		writeError(w, http.StatusNotFound, "application not found")
		return
	}
	for _, running := range s.store.Running(appID) {
		s.cancelExchange(running)
	}

	ex := exchange.Exchange{
		ID:     newExchangeID(),
		AppID:  appID,
		UserID: DevUserID,
		First:  !s.store.HasExchanges(appID),
		Prompt: prompt,
		Status: exchange.StatusPlanning,
		Stages: []exchange.Stage{},
	}
	s.store.Insert(ex, startParams{prompt: prompt, skipPages: body.SkipPageGeneration, origin: origin(r)})
	s.logger.Printf("component=devserver action=generate exchange=%s app=%s attachments=%d", ex.ID, appID, len(body.AttachmentURLs))

	first, updates, unwatch, _ := s.store.Watch(ex.ID)
	s.startJob(ex.ID, 0)
	s.streamExchange(w, r, first, updates, unwatch)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("exchange-id")
	first, updates, unwatch, ok := s.store.Watch(id)
	if !ok {
		writeError(w, http.StatusNotFound, "exchange not found")
		return
	}
	s.streamExchange(w, r, first, updates, unwatch)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var body exchangeIDBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.store.Exchange(body.ExchangeID); !ok {
		writeError(w, http.StatusNotFound, "exchange not found")
		return
	}
	run, ok := s.store.Restart(body.ExchangeID)
	if !ok {
		writeError(w, http.StatusConflict, "only failed exchanges can be retried")
		return
	}
	s.logger.Printf("component=devserver action=retry exchange=%s run=%d", body.ExchangeID, run)

	first, updates, unwatch, _ := s.store.Watch(body.ExchangeID)
	s.startJob(body.ExchangeID, run)
	s.streamExchange(w, r, first, updates, unwatch)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body exchangeIDBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.store.Exchange(body.ExchangeID); !ok {
		writeError(w, http.StatusNotFound, "exchange not found")
		return
	}
	s.cancelExchange(body.ExchangeID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelExchange(id string) {
	s.store.stopJob(id)
	snap, _ := s.store.Update(id, func(ex *exchange.Exchange) {
		if ex.Status.IsRunning() {
			ex.Status = exchange.StatusCancelled
		}
	})
	if snap.Status == exchange.StatusCancelled {
		s.metrics.generations.WithLabelValues("cancelled").Inc()
		s.logger.Printf("component=devserver action=cancel exchange=%s", id)
	}
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	var body exchangeIDBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ex, ok := s.store.Exchange(body.ExchangeID)
	if !ok {
		writeError(w, http.StatusNotFound, "exchange not found")
		return
	}
	if s.store.LatestSuccessful(ex.AppID) != ex.ID {
		writeError(w, http.StatusConflict, "only the latest successful exchange can be reverted")
		return
	}
	s.store.Update(ex.ID, func(e *exchange.Exchange) { e.Status = exchange.StatusReverted })
	s.logger.Printf("component=devserver action=revert exchange=%s", ex.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var body historyBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.AppID == "" {
		writeError(w, http.StatusBadRequest, "appId is required")
		return
	}
	writeJSON(w, http.StatusOK, s.store.History(body.AppID, body.Prompt, body.Page, body.PageSize))
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := s.store.Application(chi.URLParam(r, "appID"))
	if !ok {
		writeError(w, http.StatusNotFound, "application not found")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleSearchApplications(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.store.SearchApplications(body.Name, body.Page, body.PageSize))
}

func (s *Server) handleSaveApplication(w http.ResponseWriter, r *http.Request) {
	var app exchange.Application
	if err := decodeBody(r, &app); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if app.ID != "" {
		if _, ok := s.store.Application(app.ID); ok {
			s.store.RenameApplication(app.ID, app.Name)
			writeJSON(w, http.StatusOK, app.ID)
			return
		}
	}
	app.OwnerID = DevUserID
	writeJSON(w, http.StatusOK, s.store.CreateApplication(app).ID)
}

func (s *Server) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	if !s.store.DeleteApplication(chi.URLParam(r, "appID")) {
		writeError(w, http.StatusNotFound, "application not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	app, ok := s.store.Application(chi.URLParam(r, "appID"))
	if !ok {
		http.Error(w, "application not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s</title></head><body><h1>%s</h1><p>Generated at %s.</p></body></html>",
		html.EscapeString(app.Name), html.EscapeString(app.Name), time.Now().UTC().Format(time.RFC3339))
}

// streamExchange writes first and every later snapshot as SSE until the
// exchange ends or the client goes away.
func (s *Server) streamExchange(w http.ResponseWriter, r *http.Request, first exchange.Exchange, updates <-chan exchange.Exchange, unwatch func()) {
	defer unwatch()
	s.metrics.openStreams.Inc()
	defer s.metrics.openStreams.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	send := func(ex exchange.Exchange) error {
		data, err := json.Marshal(ex)
		if err != nil {
			return err
		}
		if err := sse.Encode(w, sse.Event{Name: generationEvent, Data: string(data), ID: ex.ID, Retry: -1}); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}
	if err := send(first); err != nil {
		return
	}

	var heartbeat <-chan time.Time
	if s.cfg.Heartbeat > 0 {
		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case ex, ok := <-updates:
			if !ok {
				return
			}
			if err := send(ex); err != nil {
				s.logger.Printf("component=devserver action=stream exchange=%s err=%v", ex.ID, err)
				return
			}
		case <-heartbeat:
			if err := sse.Comment(w, "heartbeat"); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return errors.New("request body is required")
	}
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
