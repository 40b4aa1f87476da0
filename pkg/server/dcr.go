package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jdutton/mcp-scaffold/pkg/clients"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

// maxRegistrationBodySize bounds DCR request bodies (64KB). Generous for
// legitimate requests with multiple redirect URIs.
const maxRegistrationBodySize = 64 * 1024

// handleRegister implements RFC 7591 dynamic client registration at
// POST /auth/register.
func (s *Server) handleRegister(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	req.Body = http.MaxBytesReader(w, req.Body, maxRegistrationBodySize)

	contentType := req.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		writeRegistrationError(w, http.StatusBadRequest, &clients.RegistrationError{
			Code:        clients.ErrorInvalidClientMetadata,
			Description: "Content-Type must be application/json",
		})
		return
	}

	var metadata clients.Metadata
	if err := json.NewDecoder(req.Body).Decode(&metadata); err != nil {
		writeRegistrationError(w, http.StatusBadRequest, &clients.RegistrationError{
			Code:        clients.ErrorInvalidClientMetadata,
			Description: "invalid JSON request body",
		})
		return
	}

	registration, err := s.clients.Register(ctx, &metadata)
	if err != nil {
		var regErr *clients.RegistrationError
		if errors.As(err, &regErr) {
			writeRegistrationError(w, http.StatusBadRequest, regErr)
			return
		}
		logger.Errorw("failed to register client", "error", err)
		writeRegistrationError(w, http.StatusInternalServerError, &clients.RegistrationError{
			Code:        "server_error",
			Description: "failed to register client",
		})
		return
	}

	logger.Debugw("registered new client",
		"client_id", registration.ClientID,
		"client_name", registration.ClientName,
	)

	w.Header().Set("Content-Type", "application/json")
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(registration.Response()); err != nil {
		logger.Errorw("failed to encode registration response", "error", err)
	}
}

func writeRegistrationError(w http.ResponseWriter, status int, regErr *clients.RegistrationError) {
	w.Header().Set("Content-Type", "application/json")
	setNoCacheHeaders(w)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(regErr); err != nil {
		logger.Errorw("failed to encode registration error", "error", err)
	}
}

func setNoCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
