package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/facegate/internal/protocol"
	"github.com/mattjoyce/facegate/internal/registry"
	"github.com/mattjoyce/facegate/internal/supervisor"
)

// handleHealthz handles GET /api/healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Workers:       []supervisor.WorkerInfo{},
	}
	if s.deps.Sessions != nil {
		resp.Sessions = s.deps.Sessions.Count()
	}
	if s.deps.Workers != nil {
		resp.Workers = s.deps.Workers.Snapshot()
	}
	for _, wk := range resp.Workers {
		if wk.Status != supervisor.StatusRunning {
			resp.Status = "degraded"
			break
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCheckFace handles POST /api/check-face.
func (s *Server) handleCheckFace(w http.ResponseWriter, r *http.Request) {
	var req CheckFaceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		s.writeError(w, http.StatusBadRequest, "No image provided")
		return
	}

	res, err := s.deps.Invoker.Invoke(r.Context(), protocol.Request{
		Kind:    protocol.CheckFace,
		Payload: []byte(protocol.StripDataURL(req.Image)),
	})
	if err != nil {
		s.requestLogger(r).Warn("check-face failed", "error", err)
		s.writeFailure(w, err, "Error processing image", "Error parsing face detection result")
		return
	}
	check, ok := res.(protocol.FaceCheck)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Error parsing face detection result")
		return
	}

	respondJSON(w, http.StatusOK, CheckFaceResponse{Success: true, FaceDetected: check.Detected})
}

// handleRegisterFace handles POST /api/register-face. The name is reserved
// in the registry before the worker runs so that two concurrent requests for
// the same name cannot both succeed.
func (s *Server) handleRegisterFace(w http.ResponseWriter, r *http.Request) {
	var req RegisterFaceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Image) == "" {
		s.writeError(w, http.StatusBadRequest, "Name and image are required")
		return
	}

	logger := s.requestLogger(r).With("name", req.Name)
	ctx := r.Context()

	reservation, err := s.deps.Registry.Reserve(ctx, req.Name)
	if err != nil {
		var f *protocol.Failure
		switch {
		case protocol.IsKind(err, protocol.DuplicateName) && errors.As(err, &f):
			logger.Info("duplicate face name rejected")
			s.writeError(w, http.StatusInternalServerError, f.Message)
		case protocol.IsKind(err, protocol.ValidationError):
			s.writeError(w, http.StatusBadRequest, "Name and image are required")
		default:
			logger.Error("failed to reserve face name", "error", err)
			s.writeError(w, http.StatusInternalServerError, "Error registering face")
		}
		return
	}

	res, err := s.deps.Invoker.Invoke(ctx, protocol.Request{
		Kind:    protocol.RegisterFace,
		Name:    reservation.Name,
		Payload: []byte(protocol.StripDataURL(req.Image)),
	})
	if err != nil {
		logger.Warn("register-face failed", "error", err)
		s.release(ctx, reservation)
		s.writeFailure(w, err, "Error registering face", "Error parsing registration result")
		return
	}
	reg, ok := res.(protocol.Registration)
	if !ok {
		s.release(ctx, reservation)
		s.writeError(w, http.StatusInternalServerError, "Error parsing registration result")
		return
	}

	if err := s.deps.Registry.Confirm(ctx, reservation, reg); err != nil {
		logger.Error("failed to confirm registration", "error", err)
		s.release(ctx, reservation)
		s.writeError(w, http.StatusInternalServerError, "Error registering face")
		return
	}

	logger.Info("face registered", "id", reg.ID)
	respondJSON(w, http.StatusOK, RegisterFaceResponse{Success: true, Message: reg.Message, ID: reg.ID})
}

// handleRegisteredFaces handles GET /api/registered-faces.
func (s *Server) handleRegisteredFaces(w http.ResponseWriter, r *http.Request) {
	faces, err := s.deps.Registry.List(r.Context())
	if err != nil {
		s.requestLogger(r).Error("failed to list faces", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, RegisteredFacesResponse{Success: true, Faces: faces})
}

// release frees a reservation even if the request context is already gone.
func (s *Server) release(ctx context.Context, res registry.Reservation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.Registry.Release(ctx, res); err != nil {
		s.logger.Error("failed to release reservation", "name", res.Name, "error", err)
	}
}

// decode reads a JSON body into v. A missing or malformed body leaves v
// zero so the caller's required-field check answers with its own message.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}
	if err != nil {
		s.requestLogger(r).Debug("unreadable request body", "error", err)
	}
	return true
}

// writeFailure maps an invocation failure onto the endpoint's messages.
func (s *Server) writeFailure(w http.ResponseWriter, err error, processMsg, parseMsg string) {
	switch protocol.KindOf(err) {
	case protocol.ValidationError:
		s.writeError(w, http.StatusBadRequest, processMsg)
	case protocol.ParseError:
		s.writeError(w, http.StatusInternalServerError, parseMsg)
	default:
		s.writeError(w, http.StatusInternalServerError, processMsg)
	}
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return s.logger.With("request_id", middleware.GetReqID(r.Context()))
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Success: false, Message: message})
}
