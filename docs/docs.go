// Package docs registers the OpenAPI document served at /swagger.
// Regenerate with: swag init -g internal/http/router.go -o docs
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
        "/send-global-announcements": {
            "post": {
                "description": "Creates a global announcement, writes one notification per user and pushes it to every registered device. Users without a device token are reported as non-retriable failures. Supports Idempotency-Key for safe retries.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Announcements"],
                "summary": "Broadcast an announcement to every user",
                "operationId": "sendGlobalAnnouncement",
                "parameters": [
                    {
                        "type": "string",
                        "example": "admin-1",
                        "description": "Caller id used to scope idempotency keys",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "example": "7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab",
                        "description": "Idempotency key for safe retries",
                        "name": "Idempotency-Key",
                        "in": "header"
                    },
                    {
                        "description": "Announcement payload",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/services.SendRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Fan-out summary",
                        "schema": {
                            "$ref": "#/definitions/services.SendResult"
                        }
                    },
                    "400": {
                        "description": "Missing message, invalid image_url or announcement not created",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "409": {
                        "description": "A request with this Idempotency-Key is still in progress",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "429": {
                        "description": "Too many requests",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "500": {
                        "description": "Internal error",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                }
            },
            "options": {
                "tags": ["Announcements"],
                "summary": "CORS preflight",
                "operationId": "preflightGlobalAnnouncement",
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                }
            }
        }
    },
    "definitions": {
        "domain.FailedUser": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"},
                "retriable": {"type": "boolean"},
                "user_id": {"type": "string"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "Missing message"}
            }
        },
        "services.SendRequest": {
            "type": "object",
            "properties": {
                "description": {"type": "string"},
                "image_url": {"type": "string"},
                "message": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "services.SendResult": {
            "type": "object",
            "properties": {
                "failed_users": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/domain.FailedUser"}
                },
                "global_notification_id": {"type": "string"},
                "stats": {"$ref": "#/definitions/services.Stats"},
                "success": {"type": "boolean"}
            }
        },
        "services.Stats": {
            "type": "object",
            "properties": {
                "execution_time_ms": {"type": "integer"},
                "push_failed": {"type": "integer"},
                "push_successful": {"type": "integer"},
                "retriable_failed": {"type": "integer"},
                "total_users": {"type": "integer"},
                "users_with_tokens": {"type": "integer"},
                "users_without_tokens": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/functions/v1",
	Schemes:          []string{},
	Title:            "UMak LINK Announcer API",
	Description:      "Global announcement fan-out: persistence and push delivery to every registered device.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
