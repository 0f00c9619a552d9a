// Package server is a reference implementation of the metadata service the
// sync engine talks to. It keeps every record as the JSON the last winning
// writer sent and answers update queries per client.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flavordex/flavorsync/internal/auth"
	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/remote"
)

const maxBodyBytes = 1 << 20

// sessionTTL bounds how long an unfinished session is kept, in milliseconds.
const sessionTTL = int64(time.Hour / time.Millisecond)

type ctxKey struct{}

type session struct {
	clientID string
	start    int64
}

// Server serves the sync API.
type Server struct {
	backend  Backend
	verifier *auth.Verifier
	logger   *slog.Logger
	now      func() int64
	mux      *http.ServeMux

	mu       sync.Mutex
	sessions map[string]session
}

// New wires the routes. All /v1 routes require a bearer token accepted by
// verifier.
func New(backend Backend, verifier *auth.Verifier, logger *slog.Logger) *Server {
	s := &Server{
		backend:  backend,
		verifier: verifier,
		logger:   logger,
		now:      model.NowMillis,
		mux:      http.NewServeMux(),
		sessions: make(map[string]session),
	}
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("POST /v1/sync/start", s.authed(s.handleStart))
	s.mux.Handle("POST /v1/sync/end", s.authed(s.handleEnd))
	s.mux.Handle("GET /v1/updates", s.authed(s.handleUpdates))
	s.mux.Handle("PUT /v1/categories/{uuid}", s.authed(s.putHandler(KindCategory, validateCategory)))
	s.mux.Handle("PUT /v1/entries/{uuid}", s.authed(s.putHandler(KindEntry, validateEntry)))
	s.mux.Handle("GET /v1/categories/{uuid}", s.authed(s.getHandler(KindCategory)))
	s.mux.Handle("GET /v1/entries/{uuid}", s.authed(s.getHandler(KindEntry)))
	return s
}

// SetClock replaces the millisecond clock. Used by tests.
func (s *Server) SetClock(now func() int64) {
	s.now = now
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		clientID, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, clientID)))
	})
}

func clientOf(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// sessionOf resolves the session header and checks it belongs to the caller.
func (s *Server) sessionOf(r *http.Request) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.Header.Get(remote.SessionHeader)]
	if !ok || sess.clientID != clientOf(r) || s.now()-sess.start > sessionTTL {
		return session{}, false
	}
	return sess, true
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	now := s.now()
	s.mu.Lock()
	s.sweepSessions(now)
	s.sessions[id] = session{clientID: clientOf(r), start: now}
	s.mu.Unlock()
	s.logger.Debug("session started", "client", clientOf(r), "session", id)
	writeJSON(w, http.StatusOK, remote.StartResponse{Session: id})
}

// sweepSessions drops sessions older than sessionTTL. Callers hold s.mu.
func (s *Server) sweepSessions(now int64) {
	for id, sess := range s.sessions {
		if now-sess.start > sessionTTL {
			delete(s.sessions, id)
			s.logger.Debug("session expired", "client", sess.clientID, "session", id)
		}
	}
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOf(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_session", "unknown or foreign session")
		return
	}
	if err := s.backend.SetLastSync(r.Context(), sess.clientID, sess.start); err != nil {
		s.internalError(w, err)
		return
	}
	s.mu.Lock()
	delete(s.sessions, r.Header.Get(remote.SessionHeader))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionOf(r); !ok {
		writeError(w, http.StatusBadRequest, "invalid_session", "unknown or foreign session")
		return
	}
	client := clientOf(r)
	since, err := s.backend.LastSync(r.Context(), client)
	if err != nil {
		s.internalError(w, err)
		return
	}
	changes, err := s.backend.Changes(r.Context(), client, since)
	if err != nil {
		s.internalError(w, err)
		return
	}

	now := s.now()
	out := model.Updates{
		DeletedCategories: map[string]int64{},
		DeletedEntries:    map[string]int64{},
		UpdatedCategories: map[string]int64{},
		UpdatedEntries:    map[string]int64{},
	}
	for _, c := range changes {
		age := model.AgeOf(c.Updated, now)
		switch {
		case c.Kind == KindCategory && c.Deleted:
			out.DeletedCategories[c.UUID] = age
		case c.Kind == KindCategory:
			out.UpdatedCategories[c.UUID] = age
		case c.Kind == KindEntry && c.Deleted:
			out.DeletedEntries[c.UUID] = age
		case c.Kind == KindEntry:
			out.UpdatedEntries[c.UUID] = age
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// recordHeader is the part of a record body the server needs regardless of
// kind.
type recordHeader struct {
	UUID    string `json:"uuid"`
	Age     int64  `json:"age"`
	Deleted bool   `json:"deleted"`
}

func validateCategory(body []byte) error {
	var rec model.CatRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return err
	}
	if !rec.Deleted && rec.Name == "" {
		return errors.New("category name is required")
	}
	return nil
}

func validateEntry(body []byte) error {
	var rec model.EntryRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return err
	}
	if !rec.Deleted && rec.CatUUID == "" {
		return errors.New("entry category is required")
	}
	return nil
}

func (s *Server) putHandler(kind Kind, validate func([]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.sessionOf(r); !ok {
			writeError(w, http.StatusBadRequest, "invalid_session", "unknown or foreign session")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		var hdr recordHeader
		if err := json.Unmarshal(body, &hdr); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		id := r.PathValue("uuid")
		if hdr.UUID != id {
			writeError(w, http.StatusBadRequest, "bad_request", "uuid does not match path")
			return
		}
		if err := validate(body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		now := s.now()
		rec := Record{
			Kind:    kind,
			UUID:    id,
			Body:    body,
			Updated: model.TimeFromAge(hdr.Age, now),
			Deleted: hdr.Deleted,
		}
		if kind == KindEntry && !rec.Deleted {
			if err := s.keepBlobIDs(r.Context(), &rec, now); err != nil {
				s.internalError(w, err)
				return
			}
		}
		written, err := s.backend.Put(r.Context(), clientOf(r), rec, now)
		if err != nil {
			s.internalError(w, err)
			return
		}
		s.logger.Debug("record put", "kind", kind, "uuid", id, "client", clientOf(r), "written", written)
		// A losing write is still acknowledged; the client pulls the newer
		// copy on its next cycle.
		writeJSON(w, http.StatusOK, remote.PutResponse{Success: true})
	}
}

// keepBlobIDs handles an entry write that loses to or ties with the stored
// copy but carries blob ids the stored copy lacks, typically a re-push after
// a photo upload. The ids are merged into the winning body and the record is
// restamped so other clients fetch it again.
func (s *Server) keepBlobIDs(ctx context.Context, rec *Record, now int64) error {
	cur, err := s.backend.Get(ctx, KindEntry, rec.UUID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.Deleted || cur.Updated < rec.Updated {
		return nil
	}
	merged, changed, err := mergeBlobIDs(cur.Body, rec.Body)
	if err != nil || !changed {
		return err
	}
	if cur.Updated > rec.Updated {
		rec.Body = merged
	}
	rec.Updated = max(cur.Updated+1, now)
	s.logger.Debug("blob ids merged into stored entry", "uuid", rec.UUID)
	return nil
}

// mergeBlobIDs copies photo blob ids from incoming into stored for photos
// with the same hash. It reports whether stored changed.
func mergeBlobIDs(stored, incoming []byte) ([]byte, bool, error) {
	var in model.EntryRecord
	if err := json.Unmarshal(incoming, &in); err != nil {
		return nil, false, err
	}
	ids := make(map[string]string, len(in.Photos))
	for _, p := range in.Photos {
		if p.BlobID != "" {
			ids[p.Hash] = p.BlobID
		}
	}
	if len(ids) == 0 {
		return stored, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(stored))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, false, fmt.Errorf("decode stored record: %w", err)
	}
	photos, _ := m["photos"].([]any)
	changed := false
	for _, raw := range photos {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		hash, _ := p["hash"].(string)
		id, ok := ids[hash]
		if cur, _ := p["blobId"].(string); !ok || cur == id {
			continue
		}
		p["blobId"] = id
		changed = true
	}
	if !changed {
		return stored, false, nil
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, false, fmt.Errorf("encode merged record: %w", err)
	}
	return out, true, nil
}

func (s *Server) getHandler(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.sessionOf(r); !ok {
			writeError(w, http.StatusBadRequest, "invalid_session", "unknown or foreign session")
			return
		}
		rec, err := s.backend.Get(r.Context(), kind, r.PathValue("uuid"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s %s", kind, r.PathValue("uuid")))
			return
		}
		if err != nil {
			s.internalError(w, err)
			return
		}
		out, err := withAge(rec.Body, model.AgeOf(rec.Updated, s.now()), rec.Deleted)
		if err != nil {
			s.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// withAge rewrites the stored body's age relative to now, keeping every other
// field exactly as the writer sent it.
func withAge(body []byte, age int64, deleted bool) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode stored record: %w", err)
	}
	m["age"] = age
	m["deleted"] = deleted
	return m, nil
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}
