// Package docs holds the OpenAPI description of the admin API in the form
// swag generates, registered with swag for the swagger UI.
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
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/sets": {
            "get": {
                "produces": ["application/json"],
                "tags": ["dispatcher"],
                "summary": "List destination sets",
                "parameters": [
                    {"type": "string", "enum": ["short", "normal", "full"], "name": "mode", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "No sets loaded", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/sets/print": {
            "get": {
                "produces": ["text/plain"],
                "tags": ["dispatcher"],
                "summary": "Plain text dump of the destination sets",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/sets/{group}/state": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["dispatcher"],
                "summary": "Set the state of a destination by uri or duid",
                "parameters": [
                    {"type": "integer", "name": "group", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.StateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Unknown state code", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "404": {"description": "Unknown set or destination", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/sets/{group}/mark": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["dispatcher"],
                "summary": "Apply a routing outcome to a destination",
                "parameters": [
                    {"type": "integer", "name": "group", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.MarkRequest"}}
                ],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/sets/{group}/destinations": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["dispatcher"],
                "summary": "Remove a destination",
                "parameters": [
                    {"type": "integer", "name": "group", "in": "path", "required": true},
                    {"type": "string", "name": "uri", "in": "query", "required": true}
                ],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/destinations": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["dispatcher"],
                "summary": "Add a destination",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.DestinationRequest"}}
                ],
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/ping": {
            "get": {
                "tags": ["probing"],
                "summary": "Report whether probing is active",
                "responses": {"200": {"description": "OK"}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["probing"],
                "summary": "Turn probing on or off",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.PingRequest"}}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/select": {
            "post": {
                "tags": ["dispatcher"],
                "summary": "Select a destination for a described request",
                "responses": {
                    "200": {"description": "OK"},
                    "503": {"description": "No active destination", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/match": {
            "get": {
                "tags": ["dispatcher"],
                "summary": "Check whether an address belongs to a set",
                "parameters": [
                    {"type": "string", "name": "ip", "in": "query", "required": true},
                    {"type": "integer", "name": "port", "in": "query"},
                    {"type": "string", "name": "proto", "in": "query"},
                    {"type": "integer", "name": "group", "in": "query"},
                    {"type": "string", "name": "mode", "in": "query", "description": "no-port, no-proto"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.MatchResponse"}}}
            }
        },
        "/hash": {
            "get": {
                "tags": ["dispatcher"],
                "summary": "Compute the dispatcher hash",
                "parameters": [
                    {"type": "string", "name": "x", "in": "query"},
                    {"type": "string", "name": "y", "in": "query"},
                    {"type": "string", "name": "uri", "in": "query"},
                    {"type": "integer", "name": "slots", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.HashResponse"}}}
            }
        },
        "/loads": {
            "get": {
                "tags": ["call-load"],
                "summary": "Number of tracked calls",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/loads/{callid}": {
            "get": {
                "tags": ["call-load"],
                "summary": "Get a tracked call",
                "parameters": [{"type": "string", "name": "callid", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.LoadResponse"}}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["call-load"],
                "summary": "Move a call to another destination",
                "parameters": [
                    {"type": "string", "name": "callid", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.ReplaceRequest"}}
                ],
                "responses": {"204": {"description": "No Content"}}
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["call-load"],
                "summary": "End a tracked call",
                "parameters": [{"type": "string", "name": "callid", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/reload": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["config"],
                "summary": "Reload the destination list",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Reload in progress", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/registrar/{domain}/contacts": {
            "get": {
                "tags": ["registrar"],
                "summary": "Look up the contacts of an AOR",
                "parameters": [
                    {"type": "string", "name": "domain", "in": "path", "required": true},
                    {"type": "string", "name": "aor", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["registrar"],
                "summary": "Apply a REGISTER",
                "parameters": [
                    {"type": "string", "name": "domain", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.RegisterRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "Too many contacts", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "Stale CSeq", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"},
                "status": {"type": "integer"},
                "metadata": {"type": "object"},
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "handler.StateRequest": {
            "type": "object",
            "required": ["key", "state"],
            "properties": {
                "key": {"type": "string"},
                "state": {"type": "string", "example": "ip"}
            }
        },
        "handler.MarkRequest": {
            "type": "object",
            "required": ["uri", "state"],
            "properties": {
                "uri": {"type": "string"},
                "state": {"type": "string"}
            }
        },
        "handler.DestinationRequest": {
            "type": "object",
            "required": ["uri"],
            "properties": {
                "group": {"type": "integer"},
                "uri": {"type": "string"},
                "flags": {"type": "integer"},
                "priority": {"type": "integer"},
                "attrs": {"type": "string"}
            }
        },
        "handler.PingRequest": {
            "type": "object",
            "required": ["active"],
            "properties": {"active": {"type": "boolean"}}
        },
        "handler.ReplaceRequest": {
            "type": "object",
            "required": ["duid"],
            "properties": {"duid": {"type": "string"}}
        },
        "handler.MatchResponse": {
            "type": "object",
            "properties": {
                "found": {"type": "boolean"},
                "group": {"type": "integer"},
                "uri": {"type": "string"},
                "attrs": {"type": "string"}
            }
        },
        "handler.HashResponse": {
            "type": "object",
            "properties": {
                "hash": {"type": "integer"},
                "slot": {"type": "integer"}
            }
        },
        "handler.LoadResponse": {
            "type": "object",
            "properties": {
                "call_id": {"type": "string"},
                "duid": {"type": "string"},
                "group": {"type": "integer"},
                "state": {"type": "string"},
                "expire": {"type": "string"},
                "init_expire": {"type": "string"}
            }
        },
        "handler.RegisterRequest": {
            "type": "object",
            "required": ["aor", "call_id", "cseq"],
            "properties": {
                "aor": {"type": "string"},
                "call_id": {"type": "string"},
                "cseq": {"type": "integer"},
                "expires": {"type": "integer"},
                "star": {"type": "boolean"},
                "contacts": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "uri": {"type": "string"},
                            "expires": {"type": "integer"},
                            "q": {"type": "number"},
                            "instance": {"type": "string"},
                            "reg_id": {"type": "integer"}
                        }
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "SIP Dispatcher Admin API",
	Description:      "Management of destination sets, probing, call load and registrar bindings.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
