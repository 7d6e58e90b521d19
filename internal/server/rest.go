package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/goevery/broker/internal/auth"
	"github.com/goevery/broker/internal/handler"
	"github.com/goevery/broker/internal/ierr"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type RESTServer struct {
	logger *zap.Logger

	publishHandler handler.PublishHandlerInterface
	adminHandler   *handler.AdminHandler
	authenticator  *auth.Authenticator
}

func NewRESTServer(
	logger *zap.Logger,
	publishHandler handler.PublishHandlerInterface,
	adminHandler *handler.AdminHandler,
	authenticator *auth.Authenticator,
) *RESTServer {
	return &RESTServer{
		logger,
		publishHandler,
		adminHandler,
		authenticator,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/publish", s.publish).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/admin/identities/{identityId}/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/admin/identities/{identityId}/sessions", s.terminateAllSessions).Methods(http.MethodDelete)
	api.HandleFunc("/admin/connections/{handle}", s.terminateSession).Methods(http.MethodDelete)
	api.HandleFunc("/admin/tenants/{tenantId}/rooms", s.roomStats).Methods(http.MethodGet)
}

// authenticate resolves the API key bearer token. Preflight requests pass
// through unauthenticated.
func (s *RESTServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			return
		}

		apiKey, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(s.logger, w, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing api key")))
			return
		}

		authentication, err := s.authenticator.AuthenticateAPIKey(apiKey)
		if err != nil {
			writeError(s.logger, w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithAuthentication(r.Context(), authentication)))
	})
}

func (s *RESTServer) publish(w http.ResponseWriter, r *http.Request) {
	var publishRequest handler.PublishRequest
	err := json.NewDecoder(r.Body).Decode(&publishRequest)
	if err != nil {
		writeError(s.logger, w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}

	publishResponse, err := s.publishHandler.Handle(r.Context(), publishRequest)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(s.logger, w, http.StatusOK, publishResponse)
}

func (s *RESTServer) listSessions(w http.ResponseWriter, r *http.Request) {
	response, err := s.adminHandler.ListSessions(r.Context(), mux.Vars(r)["identityId"])
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(s.logger, w, http.StatusOK, response)
}

func (s *RESTServer) terminateAllSessions(w http.ResponseWriter, r *http.Request) {
	result, err := s.adminHandler.TerminateAllSessions(r.Context(), mux.Vars(r)["identityId"])
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(s.logger, w, http.StatusOK, result)
}

func (s *RESTServer) terminateSession(w http.ResponseWriter, r *http.Request) {
	err := s.adminHandler.TerminateSession(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) roomStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.adminHandler.RoomStats(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(s.logger, w, http.StatusOK, stats)
}
