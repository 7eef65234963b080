package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/featureserv/internal/errs"
	"github.com/koustreak/featureserv/internal/logger"
	"github.com/koustreak/featureserv/internal/metadata"
	"github.com/koustreak/featureserv/internal/query"
	"github.com/koustreak/featureserv/internal/service"
)

func (s *Server) discovery(w http.ResponseWriter, r *http.Request) {
	t, ok := s.target(w, r)
	if !ok {
		return
	}
	doc, err := s.backend.Discovery(r.Context(), t, baseURL(r))
	s.respond(w, r, doc, err)
}

func (s *Server) serviceInfo(kind metadata.ServerKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := s.target(w, r)
		if !ok {
			return
		}
		info, err := s.backend.ServiceInfo(r.Context(), t, kind)
		s.respond(w, r, info, err)
	}
}

func (s *Server) layerInfo(kind metadata.ServerKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := s.target(w, r)
		if !ok {
			return
		}
		info, err := s.backend.LayerInfo(r.Context(), t, kind, chi.URLParam(r, "layer"))
		s.respond(w, r, info, err)
	}
}

func (s *Server) identify(w http.ResponseWriter, r *http.Request) {
	t, ok := s.target(w, r)
	if !ok {
		return
	}
	res, err := s.backend.Identify(r.Context(), t)
	s.respond(w, r, res, err)
}

// layerMethod dispatches /{layer}/{method}. Method names are matched
// exactly; queryrelated is an alias of queryRelatedRecords.
func (s *Server) layerMethod(kind metadata.ServerKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := s.target(w, r)
		if !ok {
			return
		}
		layer := chi.URLParam(r, "layer")
		method := chi.URLParam(r, "method")

		if method == "info" {
			info, err := s.backend.LayerInfo(r.Context(), t, kind, layer)
			s.respond(w, r, info, err)
			return
		}

		if err := r.ParseForm(); err != nil {
			s.fail(w, r, errs.Wrap(errs.ErrKindInvalidInput, "malformed request parameters", err))
			return
		}
		req, err := query.ParseRequest(r.Form)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx := r.Context()
		switch method {
		case "query":
			res, err := s.backend.Query(ctx, t, layer, req)
			s.respond(w, r, res, err)
		case "queryRelatedRecords", "queryrelated":
			res, err := s.backend.RelatedRecords(ctx, t, layer, req)
			s.respond(w, r, res, err)
		case "getEstimates":
			res, err := s.backend.Estimates(ctx, t, layer, req)
			s.respond(w, r, res, err)
		default:
			s.fail(w, r, errs.Newf(errs.ErrKindNotFound, "method %q not found", method))
		}
	}
}

func (s *Server) target(w http.ResponseWriter, r *http.Request) (service.Target, bool) {
	t, err := service.ParseTarget(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return service.Target{}, false
	}
	return t, true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// fail writes the Esri error envelope. Server-side failures are logged with
// their cause; client mistakes only show up in the access log.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	env := errs.Envelope(err)
	if env.Error.Code >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorWith("request failed", err, map[string]any{
			"kind": errs.KindOf(err).String(),
		})
	}
	writeJSON(w, env.Error.Code, env)
}

func writeEnvelope(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errs.ErrorEnvelope{Error: errs.Body{Code: status, Message: msg, Details: []string{}}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// baseURL reconstructs the absolute URL of r, honouring a proxy's
// X-Forwarded-Proto.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.Path
}
