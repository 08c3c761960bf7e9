package api

import (
	"github.com/mattjoyce/facegate/internal/registry"
	"github.com/mattjoyce/facegate/internal/supervisor"
)

// CheckFaceRequest is the JSON body for POST /api/check-face.
type CheckFaceRequest struct {
	Image string `json:"image"`
}

// RegisterFaceRequest is the JSON body for POST /api/register-face.
type RegisterFaceRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// CheckFaceResponse is returned by a successful check-face.
type CheckFaceResponse struct {
	Success      bool `json:"success"`
	FaceDetected bool `json:"faceDetected"`
}

// RegisterFaceResponse is returned by a successful register-face.
type RegisterFaceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

// RegisteredFacesResponse lists confirmed registrations.
type RegisteredFacesResponse struct {
	Success bool            `json:"success"`
	Faces   []registry.Face `json:"faces"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthzResponse is returned by GET /api/healthz.
type HealthzResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Sessions      int                     `json:"sessions"`
	Workers       []supervisor.WorkerInfo `json:"workers"`
}
