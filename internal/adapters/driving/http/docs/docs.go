// Package docs holds the OpenAPI document served at /swagger/doc.json.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/auth/login": {"post": {"tags": ["Authentication"], "summary": "Login", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/collections": {
            "get": {"tags": ["Collections"], "summary": "List collections", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["Collections"], "summary": "Create collection", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}
        },
        "/collections/{name}": {
            "get": {"tags": ["Collections"], "summary": "Get collection", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "put": {"tags": ["Collections"], "summary": "Update collection", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "403": {"description": "Forbidden"}}},
            "delete": {"tags": ["Collections"], "summary": "Delete collection", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "No Content"}, "403": {"description": "Forbidden"}}}
        },
        "/collections/{name}/enable": {"post": {"tags": ["Collections"], "summary": "Enable collection", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "No Content"}}}},
        "/collections/{name}/disable": {"post": {"tags": ["Collections"], "summary": "Disable collection", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "No Content"}}}},
        "/collections/{name}/reindex": {"post": {"tags": ["Sync"], "summary": "Reindex collection", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"202": {"description": "Accepted"}}}},
        "/collections/{name}/sync": {
            "get": {"tags": ["Sync"], "summary": "Get sync state", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "post": {"tags": ["Sync"], "summary": "Start sync run", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"202": {"description": "Accepted"}}}
        },
        "/collections/{name}/sync/retry": {"post": {"tags": ["Sync"], "summary": "Retry failed sync", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"202": {"description": "Accepted"}, "400": {"description": "Bad Request"}}}},
        "/collections/{name}/tasks": {"get": {"tags": ["Sync"], "summary": "List sync tasks of a collection", "security": [{"BearerAuth": []}], "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}},
        "/sync-states": {"get": {"tags": ["Sync"], "summary": "List sync states", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/tasks/{id}": {"get": {"tags": ["Tasks"], "summary": "Get task", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}, "delete": {"tags": ["Tasks"], "summary": "Cancel task", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}}},
        "/queue/stats": {"get": {"tags": ["Tasks"], "summary": "Queue statistics", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/records/changes": {"post": {"tags": ["Records"], "summary": "Record lifecycle event", "security": [{"BearerAuth": []}], "responses": {"202": {"description": "Accepted"}, "400": {"description": "Bad Request"}}}},
        "/search": {"post": {"tags": ["Search"], "summary": "Search a collection", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/search/key": {"get": {"tags": ["Search"], "summary": "Scoped search key", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Sercha Typesense API",
	Description:      "Administers Typesense collections fed from local records and accepts record change events.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
