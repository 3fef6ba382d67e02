// Package network is the network layer: one HTTPS listener per
// helper exposing two logical APIs distinguished by URL path — the
// collector-facing Query API (no client-cert requirement) and the
// mutually authenticated helper-to-helper (H2H) API. Routing uses
// gorilla/mux so the literal path templates
// (`/query/{id}/input`, `/query/{id}/step/{step_path}`, ...) map
// directly onto route patterns instead of a hand-rolled switch over
// path segments.
package network

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/log"
	"github.com/ipaproto/helper/pkg/query"
	"github.com/ipaproto/helper/pkg/security"
	"github.com/ipaproto/helper/pkg/step"
	"github.com/ipaproto/helper/pkg/transport"
	"github.com/ipaproto/helper/pkg/transport/https"
	"github.com/ipaproto/helper/pkg/types"
)

// Config configures one helper's Server.
type Config struct {
	Self      types.HelperIdentity
	Followers []types.HelperIdentity // the other two helpers in this cluster
	Processor *query.Processor
	HTTPS     *https.Transport // registered handlers for prepare/step/complete
	TLSConfig *tls.Config      // must verify client certs for the H2H routes
}

// Server is the HTTPS listener implementing both the Query API and the
// H2H API on one port.
type Server struct {
	cfg    Config
	router *mux.Router
	srv    *http.Server
}

// New builds a Server and wires its routes. It does not start
// listening; call ListenAndServeTLS.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, router: mux.NewRouter()}

	s.router.HandleFunc("/query", s.handleCreateQuery).Methods(http.MethodPost)
	s.router.HandleFunc("/query/{id}/input", s.handleInput).Methods(http.MethodPost)
	s.router.HandleFunc("/query/{id}/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/query/{id}/results", s.handleResults).Methods(http.MethodGet)

	s.router.HandleFunc("/query/{id}/prepare", s.h2h(s.handlePrepare)).Methods(http.MethodPost)
	s.router.HandleFunc("/query/{id}/complete", s.h2h(s.handleComplete)).Methods(http.MethodPost)
	// step_path is URLEncode's slash-separated, base64-segmented render
	// of a step.Path, so the pattern must allow embedded slashes.
	s.router.HandleFunc("/query/{id}/step/{step_path:.*}", s.h2h(s.handleStep)).Methods(http.MethodPost)

	s.srv = &http.Server{
		Handler:   s.router,
		TLSConfig: cfg.TLSConfig,
	}
	return s
}

// ListenAndServeTLS starts the listener on addr, using the certificate
// material already loaded into cfg.TLSConfig.
func (s *Server) ListenAndServeTLS(addr string) error {
	s.srv.Addr = addr
	log.WithComponent("network").Info().Str("addr", addr).Msg("helper listening")
	return s.srv.ListenAndServeTLS("", "")
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func queryIDFromPath(r *http.Request) (types.QueryID, error) {
	idStr := mux.Vars(r)["id"]
	return types.ParseQueryID(idStr)
}

func writeAppErr(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	switch appErr.Kind {
	case apperr.KindAlreadyRunning:
		http.Error(w, appErr.Error(), http.StatusConflict)
	case apperr.KindAuthenticationFailed:
		http.Error(w, appErr.Error(), http.StatusUnauthorized)
	case apperr.KindBadInput, apperr.KindBadState:
		http.Error(w, appErr.Error(), http.StatusBadRequest)
	default:
		http.Error(w, appErr.Error(), http.StatusInternalServerError)
	}
}

// --- Query API: collector-facing, no client-cert requirement ---

func (s *Server) handleCreateQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg, err := query.DecodeQueryConfig(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	qid, err := s.cfg.Processor.CreateQuery(r.Context(), cfg, s.cfg.Followers)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, qid.String())
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	qid, err := queryIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.cfg.Processor.SubmitInput(r.Context(), qid, body); err != nil {
		writeAppErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	qid, err := queryIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, err := s.cfg.Processor.Status(qid)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(query.EncodeQueryState(state))
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	qid, err := queryIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	shares, err := s.cfg.Processor.Results(qid)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(shares)
}

// --- H2H API: mutual TLS required ---

// h2h wraps fn so that a request without a verified client certificate
// is rejected before fn runs, and fn receives the caller's
// HelperIdentity taken from that certificate. h2h only establishes that
// a verified identity is present; neither h2h nor the handlers it wraps
// compare that identity with the sender role implied by the path.
func (s *Server) h2h(fn func(http.ResponseWriter, *http.Request, types.HelperIdentity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := security.IdentityFromRequest(r)
		if err != nil {
			writeAppErr(w, err)
			return
		}
		fn(w, r, identity)
	}
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request, from types.HelperIdentity) {
	qid, err := queryIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.cfg.HTTPS.HandlePrepare(r.Context(), from, qid, body)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	_, _ = w.Write(resp)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, from types.HelperIdentity) {
	qid, err := queryIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.cfg.HTTPS.HandleComplete(r.Context(), from, qid, body)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	_, _ = w.Write(resp)
}

// doneReadCloser signals a channel once Close is called, letting
// handleStep block the HTTP handler goroutine until whatever consumes
// the records stream (a gateway RecvHandle, running on another
// goroutine via https.Transport's park-and-wait rendezvous) has fully
// drained and closed it. Returning from net/http's handler early would
// let the server reclaim the request body out from under that reader.
type doneReadCloser struct {
	io.ReadCloser
	done chan struct{}
}

func (d *doneReadCloser) Close() error {
	err := d.ReadCloser.Close()
	close(d.done)
	return err
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, from types.HelperIdentity) {
	qid, err := queryIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	encodedPath := mux.Vars(r)["step_path"]
	p, err := step.Decode(encodedPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	toRole, err := types.ParseRole(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fromRole, err := types.ParseRole(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := transport.RecordsKey{QueryID: qid, StepPath: p.URLEncode(), From: fromRole, To: toRole}
	reader := &doneReadCloser{ReadCloser: r.Body, done: make(chan struct{})}

	s.cfg.HTTPS.HandleRecords(r.Context(), from, key, reader)

	select {
	case <-reader.done:
	case <-r.Context().Done():
	}
	w.WriteHeader(http.StatusOK)
}
