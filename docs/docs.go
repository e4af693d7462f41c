// Package docs registers the swagger document served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "Service Desk Bot",
    "description": "Webhook and operator API of the appliance repair chat assistant",
    "version": "1.0"
  },
  "basePath": "/",
  "securityDefinitions": {
    "AdminKey": {"type": "apiKey", "in": "header", "name": "X-Admin-Key"}
  },
  "paths": {
    "/healthz": {
      "get": {"tags": ["health"], "summary": "Liveness and history store check",
        "responses": {"200": {"description": "ok"}, "503": {"description": "history store unavailable"}}}
    },
    "/api/messages": {
      "post": {"tags": ["messages"], "summary": "Deliver a chat message",
        "consumes": ["application/json"], "produces": ["application/json"],
        "parameters": [{"in": "body", "name": "message", "required": true, "schema": {"$ref": "#/definitions/InboundMessage"}}],
        "responses": {
          "200": {"description": "reply to send", "schema": {"$ref": "#/definitions/Reply"}},
          "204": {"description": "message skipped, reason in X-Skip-Reason"},
          "400": {"description": "invalid payload"}
        }}
    },
    "/api/chats/stats": {
      "get": {"tags": ["chats"], "summary": "Most active chats", "security": [{"AdminKey": []}],
        "parameters": [{"in": "query", "name": "limit", "type": "integer", "default": 50}],
        "responses": {"200": {"description": "ok"}}}
    },
    "/api/chats/{id}/draft": {
      "get": {"tags": ["chats"], "summary": "Chat draft", "security": [{"AdminKey": []}],
        "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}],
        "responses": {"200": {"description": "ok"}, "400": {"description": "bad chat id"}}}
    },
    "/api/chats/{id}/reset": {
      "post": {"tags": ["chats"], "summary": "Reset chat draft", "security": [{"AdminKey": []}],
        "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}],
        "responses": {"200": {"description": "ok"}}}
    },
    "/api/chats/{id}/ban": {
      "delete": {"tags": ["chats"], "summary": "Lift a chat ban", "security": [{"AdminKey": []}],
        "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}],
        "responses": {"200": {"description": "ok"}}}
    },
    "/api/catalog/reload": {
      "post": {"tags": ["admin"], "summary": "Reload the branch catalog", "security": [{"AdminKey": []}],
        "responses": {"200": {"description": "ok"}, "422": {"description": "invalid catalog, previous kept"}}}
    }
  },
  "definitions": {
    "InboundMessage": {
      "type": "object",
      "required": ["chat_id", "message_id", "kind"],
      "properties": {
        "chat_id": {"type": "integer"},
        "message_id": {"type": "integer"},
        "user_name": {"type": "string"},
        "kind": {"type": "string", "enum": ["text", "location", "contact", "audio"]},
        "text": {"type": "string"},
        "latitude": {"type": "number"},
        "longitude": {"type": "number"},
        "phone": {"type": "string"},
        "audio_path": {"type": "string"},
        "service": {"type": "boolean"}
      }
    },
    "Reply": {
      "type": "object",
      "properties": {
        "reply_text": {"type": "string"},
        "tools": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
