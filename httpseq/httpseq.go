/*Package httpseq exposes an idle session over HTTP: writing lines outside a
sequence, rerunning or stopping the last run, and reporting state.

Routes:

	GET  /state     session state, pending records, coil states, line names
	POST /digital   {"line": "mot_shutter", "state": 1}
	                or {"connector": 3, "channel": 18, "state": 1}
	POST /analog    {"line": "bias_servo", "value": 1.5}
	                or {"board": 0, "channel": 3, "value": 1.5}
	POST /defaults  write the idle state of every line with a default
	POST /rerun     run the last sequence again
	POST /stop      abort the current run
	GET  /lock      {"bool": true} if writes are locked out
	POST /lock      {"bool": true} to lock, false to unlock

Errors are returned as plain text with a 4xx or 5xx status.
*/
package httpseq

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/ultracold-lab/sequencer/apparatus"
	"github.com/ultracold-lab/sequencer/link"
	"github.com/ultracold-lab/sequencer/output"
)

// BoolT is a struct with a single bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// DigitalRequest sets a digital line, by name or by location
type DigitalRequest struct {
	Line      string `json:"line"`
	Connector int    `json:"connector"`
	Channel   int    `json:"channel"`
	State     int    `json:"state"`
}

// AnalogRequest sets an analog line, by name or by location
type AnalogRequest struct {
	Line    string  `json:"line"`
	Board   int     `json:"board"`
	Channel int     `json:"channel"`
	Value   float64 `json:"value"`
}

// StateResponse is returned by GET /state
type StateResponse struct {
	State        string          `json:"state"`
	Pending      int             `json:"pending"`
	ChainPending bool            `json:"chainPending"`
	Coils        map[string]bool `json:"coils"`
	Lines        []string        `json:"lines"`
	AnalogLines  []string        `json:"analogLines"`
}

// RunResponse is returned by POST /rerun
type RunResponse struct {
	ID      string  `json:"id"`
	Records int     `json:"records"`
	Runtime float64 `json:"runtime"`
}

// Server serializes HTTP requests onto one session
type Server struct {
	mu   sync.Mutex
	sess *link.Session
	app  *apparatus.Apparatus
	lock *Locker
}

// New returns a server driving sess.  app provides line names and must write
// through an output.Outputs whose sink is sess.
func New(sess *link.Session, app *apparatus.Apparatus) *Server {
	return &Server{sess: sess, app: app, lock: NewLocker()}
}

// Locker returns the lock guarding the write routes
func (s *Server) Locker() *Locker {
	return s.lock
}

// Router builds the chi router with every route bound
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.lock.Check)
	r.Get("/state", s.state)
	r.Post("/digital", s.digital)
	r.Post("/analog", s.analog)
	r.Post("/defaults", s.defaults)
	r.Post("/rerun", s.rerun)
	r.Post("/stop", s.stop)
	r.Get("/lock", s.lock.HTTPGet)
	r.Post("/lock", s.lock.HTTPSet)
	return r
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json state %q", err)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// status maps errors onto HTTP status codes
func status(err error) int {
	switch {
	case errors.Is(err, output.ErrConnector), errors.Is(err, output.ErrChannel),
		errors.Is(err, output.ErrState), errors.Is(err, output.ErrVoltage):
		return http.StatusBadRequest
	case errors.Is(err, apparatus.ErrUnknownLine):
		return http.StatusNotFound
	case errors.Is(err, link.ErrNotConnected), errors.Is(err, link.ErrNoLastRun):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// idle takes the session lock and checks nothing is being built or run.
// The caller must unlock s.mu when ok is true.
func (s *Server) idle(w http.ResponseWriter) (ok bool) {
	s.mu.Lock()
	if st := s.sess.State(); st != link.Connected {
		s.mu.Unlock()
		http.Error(w, fmt.Sprintf("session is %v, writes need an idle connection", st), http.StatusConflict)
		return false
	}
	return true
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := StateResponse{
		State:        s.sess.State().String(),
		Pending:      s.sess.Pending(),
		ChainPending: s.sess.ChainPending(),
		Coils:        s.app.State.Snapshot(),
	}
	s.mu.Unlock()
	resp.Lines, resp.AnalogLines = s.app.LineNames()
	respondJSON(w, resp)
}

func (s *Server) digital(w http.ResponseWriter, r *http.Request) {
	req := DigitalRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	line := output.Line{Out: s.app.Out, Connector: req.Connector, Channel: req.Channel}
	if req.Line != "" {
		line, err = s.app.Line(req.Line)
		if err != nil {
			http.Error(w, err.Error(), status(err))
			return
		}
	}
	if !s.idle(w) {
		return
	}
	defer s.mu.Unlock()
	if _, err := line.Set(req.State)(0); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) analog(w http.ResponseWriter, r *http.Request) {
	req := AnalogRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	line := output.AnalogLine{Out: s.app.Out, Board: req.Board, Channel: req.Channel}
	if req.Line != "" {
		line, err = s.app.Analog(req.Line)
		if err != nil {
			http.Error(w, err.Error(), status(err))
			return
		}
	}
	if !s.idle(w) {
		return
	}
	defer s.mu.Unlock()
	if _, err := line.Set(req.Value)(0); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) defaults(w http.ResponseWriter, r *http.Request) {
	if !s.idle(w) {
		return
	}
	defer s.mu.Unlock()
	if err := s.app.ApplyDefaults(0); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) rerun(w http.ResponseWriter, r *http.Request) {
	if !s.idle(w) {
		return
	}
	info, err := s.sess.RerunLastSequence()
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	respondJSON(w, RunResponse{ID: info.ID.String(), Records: info.Records, Runtime: info.Runtime})
}

// stop does not take the session lock, so it reaches the executor while a
// rerun is blocked waiting for it
func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.StopSequence(); err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}
