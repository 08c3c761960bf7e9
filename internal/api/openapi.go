package api

import "net/http"

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the request/response
// endpoints. The WebSocket and SSE streams are listed without schemas.
func buildOpenAPIDoc() map[string]any {
	errorResponse := func(desc string) map[string]any {
		return map[string]any{
			"description": desc,
			"content":     jsonContent(ref("Error")),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Facegate",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/api/check-face": map[string]any{
				"post": map[string]any{
					"operationId": "checkFace",
					"summary":     "Detect whether an image contains a face",
					"requestBody": map[string]any{"required": true, "content": jsonContent(ref("CheckFaceRequest"))},
					"responses": map[string]any{
						"200": map[string]any{"description": "Detection result", "content": jsonContent(ref("CheckFaceResponse"))},
						"400": errorResponse("No image provided"),
						"500": errorResponse("Worker failure"),
					},
				},
			},
			"/api/register-face": map[string]any{
				"post": map[string]any{
					"operationId": "registerFace",
					"summary":     "Register a face under a unique, case-insensitive name",
					"requestBody": map[string]any{"required": true, "content": jsonContent(ref("RegisterFaceRequest"))},
					"responses": map[string]any{
						"200": map[string]any{"description": "Registered", "content": jsonContent(ref("RegisterFaceResponse"))},
						"400": errorResponse("Name and image are required"),
						"500": errorResponse("Worker failure or duplicate name"),
					},
				},
			},
			"/api/registered-faces": map[string]any{
				"get": map[string]any{
					"operationId": "registeredFaces",
					"summary":     "List registered faces, newest first",
					"responses": map[string]any{
						"200": map[string]any{"description": "Registered faces", "content": jsonContent(ref("RegisteredFacesResponse"))},
					},
				},
			},
			"/api/healthz": map[string]any{
				"get": map[string]any{
					"operationId": "healthz",
					"summary":     "Gateway and worker health",
					"responses":   map[string]any{"200": map[string]any{"description": "Health report"}},
				},
			},
			"/api/events": map[string]any{
				"get": map[string]any{
					"operationId": "events",
					"summary":     "Server-Sent Events stream of worker and session lifecycle events",
					"responses":   map[string]any{"200": map[string]any{"description": "text/event-stream"}},
				},
			},
			"/ws": map[string]any{
				"get": map[string]any{
					"operationId": "session",
					"summary":     "WebSocket upgrade for recognition and chat sessions",
					"responses":   map[string]any{"101": map[string]any{"description": "Switching Protocols"}},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"CheckFaceRequest":     object(map[string]any{"image": str()}, "image"),
				"CheckFaceResponse":    object(map[string]any{"success": boolean(), "faceDetected": boolean()}),
				"RegisterFaceRequest":  object(map[string]any{"name": str(), "image": str()}, "name", "image"),
				"RegisterFaceResponse": object(map[string]any{"success": boolean(), "message": str(), "id": integer()}),
				"RegisteredFacesResponse": object(map[string]any{
					"success": boolean(),
					"faces": map[string]any{
						"type": "array",
						"items": object(map[string]any{
							"id":         integer(),
							"name":       str(),
							"created_at": map[string]any{"type": "string", "format": "date-time"},
						}),
					},
				}),
				"Error": object(map[string]any{"success": boolean(), "message": str()}),
			},
		},
	}
}

func object(props map[string]any, required ...string) map[string]any {
	o := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

func ref(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

func jsonContent(schema map[string]any) map[string]any {
	return map[string]any{"application/json": map[string]any{"schema": schema}}
}

func str() map[string]any     { return map[string]any{"type": "string"} }
func boolean() map[string]any { return map[string]any{"type": "boolean"} }
func integer() map[string]any { return map[string]any{"type": "integer"} }
