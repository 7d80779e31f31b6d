package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/openbucket/internal/api"
	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/filestore"
	"github.com/koustreak/openbucket/internal/logger"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, errs.New(errs.ErrKindNotFound, "no route for "+r.Method+" "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, errs.Invalid("method %s not allowed on %s", r.Method, r.URL.Path))
	})

	r.Get("/health", s.handleHealth)
	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, s.metrics.handler())
	}

	r.Put("/sessions", s.handleResolveSessions)
	r.Post("/session", s.handleCreateSession)

	r.Route("/{bucket}", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/folders", s.handleListFolders)
		r.Post("/folder", s.handleCreateFolder)
		r.Delete("/folder", s.handleDeleteFolder)

		r.Get("/objects", s.handleListObjects)
		r.Get("/object", s.handleGetObject)
		r.Put("/object", s.handleUpload)
		r.Delete("/object", s.handleDeleteObject)
		r.Put("/object/rename", s.handleRename)
		r.Get("/object/presign", s.handlePresign)
		r.Get("/object/acl", s.handleGetACL)
		r.Put("/object/acl", s.handlePutACL)
	})
	return r
}

// --- middleware ---

// observe attaches a request-scoped logger, then logs and counts every
// request once it is done.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		reqLog := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(reqLog.WithContext(r.Context()))

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)

		s.metrics.observe(r.Method, route, status, elapsed)
		reqLog.HTTPEvent(status).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("request")
	})
}

type scopeKey struct{}

// scope is what authenticate resolves for a bucket request.
type scope struct {
	claims Claims
	store  filestore.Store
}

func scopeFrom(ctx context.Context) *scope {
	sc, _ := ctx.Value(scopeKey{}).(*scope)
	return sc
}

// authenticate opens the bearer token, checks it belongs to the bucket in the
// path and attaches the bucket's store to the request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.fail(w, r, errs.New(errs.ErrKindPermissionDenied, "missing session token"))
			return
		}

		now := s.now()
		claims, err := s.sealer.Open(token, now)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if bucket := chi.URLParam(r, "bucket"); bucket != claims.Bucket {
			s.fail(w, r, errs.New(errs.ErrKindPermissionDenied, "session is not valid for bucket "+bucket))
			return
		}

		store, err := s.stores.get(r.Context(), token, claims, now)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), scopeKey{}, &scope{claims: claims, store: store})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// --- envelopes ---

func (s *Server) ok(w http.ResponseWriter, r *http.Request, msg string, data interface{}) {
	resp, err := api.Succeeded(msg, data)
	if err != nil {
		s.fail(w, r, errs.Wrap(errs.ErrKindServer, "failed to encode response", err))
		return
	}
	writeJSON(w, resp.Status, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := api.Failed(err)
	if resp.Status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorWith("request failed", err, map[string]interface{}{
			"path": r.URL.Path,
		})
	}
	writeJSON(w, resp.Status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a small JSON body into out.
func decodeJSON(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "malformed request body", err)
	}
	return nil
}

// requireQuery returns the named query parameter or an invalid input error.
func requireQuery(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", errs.Invalid("%s is required", name)
	}
	return v, nil
}
