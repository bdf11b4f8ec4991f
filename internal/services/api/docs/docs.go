// Package docs registers the OpenAPI document for the ETL API. Schemas
// mirror the handler annotations in the progress and meta packages
package docs

import (
	"clinicaletl/internal/core/version"

	"github.com/swaggo/swag/v2"
)

// Instance is the name the document is registered under
const Instance = "clinetl"

const template = `{
  "openapi": "3.1.0",
  "info": {
    "title": "{{.Title}}",
    "description": "{{escape .Description}}",
    "version": "{{.Version}}"
  },
  "servers": [{"url": "/api/v1"}],
  "components": {
    "securitySchemes": {"operator": {"type": "http", "scheme": "bearer"}},
    "schemas": {
      "Envelope": {
        "type": "object",
        "properties": {
          "status_code": {"type": "integer"},
          "status": {"type": "string"},
          "code": {"type": "string"},
          "error": {"type": "string"},
          "field": {"type": "string"},
          "request_id": {"type": "string"},
          "data": {}
        }
      },
      "RunRequest": {
        "type": "object",
        "properties": {
          "steps": {"type": "array", "items": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$", "maxLength": 63}},
          "force": {"type": "boolean"},
          "parallelism": {"type": "integer", "minimum": 0, "maximum": 256},
          "batch_size": {"type": "integer", "minimum": 0}
        }
      },
      "RunAccepted": {"type": "object", "properties": {"run_id": {"type": "string"}}}
    }
  },
  "paths": {
    "/progress": {"get": {"tags": ["Progress"], "summary": "Full progress report", "responses": {"200": {"description": "ok"}}}},
    "/progress/stages": {"get": {"tags": ["Progress"], "summary": "Per-stage progress with per-entity counters", "responses": {"200": {"description": "ok"}}}},
    "/progress/unmapped": {"get": {"tags": ["Progress"], "summary": "Unmapped code counts per vocabulary and domain", "responses": {"200": {"description": "ok"}}}},
    "/runs": {
      "post": {
        "tags": ["Runs"],
        "summary": "Trigger a run",
        "security": [{"operator": []}],
        "requestBody": {"required": false, "content": {"application/json": {"schema": {"$ref": "#/components/schemas/RunRequest"}}}},
        "responses": {
          "202": {"description": "accepted", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/RunAccepted"}}}},
          "401": {"description": "missing or unknown operator token", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Envelope"}}}},
          "409": {"description": "run in progress", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Envelope"}}}}
        }
      }
    },
    "/meta/health": {"get": {"tags": ["Meta"], "summary": "Liveness", "responses": {"200": {"description": "ok"}}}},
    "/meta/ready": {"get": {"tags": ["Meta"], "summary": "Readiness with dependency checks", "responses": {"200": {"description": "ok"}}}},
    "/meta/version": {"get": {"tags": ["Meta"], "summary": "Build info", "responses": {"200": {"description": "ok"}}}}
  }
}`

// Spec is the registered document
var Spec = &swag.Spec{
	Version:          version.Info().Version,
	Title:            "Clinical ETL API",
	Description:      "Progress view and run trigger for the clinical ETL orchestrator.",
	InfoInstanceName: Instance,
	SwaggerTemplate:  template,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(Instance, Spec)
}
