// Package apitest provides an in-memory metadata API for tests.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
)

// Object is a stored object row.
type Object struct {
	ID            int64          `json:"id"`
	Scheme        string         `json:"scheme"`
	Host          string         `json:"host"`
	Bucket        string         `json:"bucket"`
	Key           string         `json:"key"`
	Source        map[string]any `json:"source"`
	MIMEType      string         `json:"mime_type"`
	SHA256Hash    string         `json:"sha256_hash"`
	ObjectGroupID *int64         `json:"object_group_id"`
}

// Server is a fake metadata API backed by maps.
type Server struct {
	URL   string
	Token string

	mu        sync.Mutex
	nextID    int64
	Processes map[int64]pipeline.IngestProcess
	Objects   map[int64]Object
	Requests  []string
}

// NewServer starts a fake API that requires token as a bearer token.
func NewServer(t testing.TB, token string) *Server {
	t.Helper()
	s := &Server{
		Token:     token,
		Processes: map[int64]pipeline.IngestProcess{},
		Objects:   map[int64]Object{},
	}

	r := chi.NewRouter()
	r.Use(s.auth)
	r.Route("/ingest-process", func(r chi.Router) {
		r.Post("/", s.createProcess)
		r.Get("/{id}", s.getProcess)
		r.Patch("/{id}", s.updateProcess)
	})
	r.Route("/object", func(r chi.Router) {
		r.Post("/", s.createObject)
		r.Patch("/{id}", s.updateObject)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

// Snapshot returns copies of the stored rows.
func (s *Server) Snapshot() (map[int64]pipeline.IngestProcess, map[int64]Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	procs := make(map[int64]pipeline.IngestProcess, len(s.Processes))
	for k, v := range s.Processes {
		procs[k] = v
	}
	objs := make(map[int64]Object, len(s.Objects))
	for k, v := range s.Objects {
		objs[k] = v
	}
	return procs, objs
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.Requests = append(s.Requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createProcess(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.nextID++
	group := s.nextID
	s.nextID++
	proc := pipeline.IngestProcess{ID: s.nextID, ObjectGroupID: group, State: pipeline.ProcessCreated}
	s.Processes[proc.ID] = proc
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, proc)
}

func (s *Server) getProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	proc, found := s.Processes[id]
	s.mu.Unlock()
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, proc)
}

func (s *Server) updateProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		State    pipeline.ProcessState `json:"state"`
		SourceID *int64                `json:"source_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, found := s.Processes[id]
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	proc.State = body.State
	if body.SourceID != nil {
		proc.SourceID = body.SourceID
	}
	s.Processes[id] = proc
	writeJSON(w, http.StatusOK, proc)
}

func (s *Server) createObject(w http.ResponseWriter, r *http.Request) {
	var obj Object
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.nextID++
	obj.ID = s.nextID
	s.Objects[obj.ID] = obj
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, obj)
}

func (s *Server) updateObject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var obj Object
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.Objects[id]; !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	obj.ID = id
	s.Objects[id] = obj
	writeJSON(w, http.StatusOK, obj)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
