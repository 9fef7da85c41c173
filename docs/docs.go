// Package docs registers the admin API OpenAPI document served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/video-jobs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["video-jobs"],
                "summary": "List recent jobs",
                "parameters": [
                    {"type": "integer", "description": "max jobs (default 20, at most 100)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/entity.VideoJob"}}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Selects approved drawings oldest first, dispatches the render and returns immediately.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["video-jobs"],
                "summary": "Create a compilation video job",
                "parameters": [
                    {"description": "job parameters (0 selects the default)", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.createJobDTO"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.createJobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/video-jobs/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Refreshes an active job from the rendering backend once before returning it.",
                "produces": ["application/json"],
                "tags": ["video-jobs"],
                "summary": "Get job by id",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.VideoJob"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/video-jobs/{id}/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Asks the rendering backend to stop and marks the job failed locally.",
                "produces": ["application/json"],
                "tags": ["video-jobs"],
                "summary": "Cancel a job",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.VideoJob"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/video-generation-status": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["video-jobs"],
                "summary": "Legacy counter of the last local render",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.GenerationStatus"}}
                }
            }
        }
    },
    "definitions": {
        "entity.LogEntry": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "entity.VideoJob": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "job_type": {"type": "string", "enum": ["daily", "archive"]},
                "render_mode": {"type": "string", "enum": ["backend", "local"]},
                "max_frames": {"type": "integer"},
                "fps": {"type": "integer"},
                "frame_count": {"type": "integer"},
                "status": {"type": "string", "enum": ["pending", "processing", "completed", "failed"]},
                "external_job_ref": {"type": "string"},
                "progress": {"type": "integer"},
                "video_path": {"type": "string"},
                "error_message": {"type": "string"},
                "logs": {"type": "array", "items": {"$ref": "#/definitions/entity.LogEntry"}},
                "created_at": {"type": "string"},
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "entity.GenerationStatus": {
            "type": "object",
            "properties": {
                "processed_count": {"type": "integer"},
                "last_processed_drawing_id": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "httptransport.apiError": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "code": {"type": "string"},
                "job_id": {"type": "string"}
            }
        },
        "httptransport.createJobDTO": {
            "type": "object",
            "properties": {
                "job_type": {"type": "string", "example": "daily"},
                "max_frames": {"type": "integer", "example": 50},
                "fps": {"type": "integer", "example": 10},
                "local": {"type": "boolean"}
            }
        },
        "httptransport.createJobResp": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Video compiler admin API",
	Description:      "Creates, inspects and cancels compilation video jobs.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
