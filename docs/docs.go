// Package docs is generated by swaggo/swag from the godoc annotations on the
// handlers. Regenerate with: swag init -g cmd/kiosk/main.go
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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Ops"],
                "summary": "Liveness probe",
                "operationId": "health",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/membership": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["Membership"],
                "summary": "Clear the membership cache",
                "operationId": "clearMembership",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/membership/search": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Membership"],
                "summary": "Search cached customers",
                "operationId": "searchMembership",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/membership/refresh": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Membership"],
                "summary": "Refresh many customers",
                "operationId": "bulkRefreshMembership",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/membership/refresh-all": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Membership"],
                "summary": "Start a full roster refresh",
                "operationId": "startRefreshAll",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/membership/refresh-all/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Membership"],
                "summary": "Roster refresh progress",
                "operationId": "refreshAllStatus",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/membership/{customerId}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Membership"],
                "summary": "Membership status for a customer",
                "operationId": "getMembership",
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Membership"],
                "summary": "Invalidate one cache entry",
                "operationId": "invalidateMembership",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/segments": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Segments"],
                "summary": "List membership segments",
                "operationId": "listSegments",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "produces": ["application/json"],
                "tags": ["Segments"],
                "summary": "Register a membership segment",
                "operationId": "createSegment",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/segments/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Segments"],
                "summary": "Get a membership segment",
                "operationId": "getSegment",
                "responses": {"200": {"description": "OK"}}
            },
            "put": {
                "produces": ["application/json"],
                "tags": ["Segments"],
                "summary": "Update a membership segment",
                "operationId": "updateSegment",
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Segments"],
                "summary": "Delete a membership segment",
                "operationId": "deleteSegment",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/checkins": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Checkins"],
                "summary": "Check a customer in",
                "operationId": "createCheckin",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/checkins/pending": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Checkins"],
                "summary": "Pending check-ins",
                "operationId": "pendingCheckins",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/checkins/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Checkins"],
                "summary": "Queue row counts per status",
                "operationId": "checkinStats",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/checkins/sync": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Checkins"],
                "summary": "Push pending check-ins to the CRM",
                "operationId": "syncCheckins",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/checkins/{id}/retry": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Checkins"],
                "summary": "Re-queue a failed check-in",
                "operationId": "retryCheckin",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/checkins/synced": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["Checkins"],
                "summary": "Prune old synced check-ins",
                "operationId": "cleanupCheckins",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/checkins/customer/{customerId}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Checkins"],
                "summary": "Customer check-in history",
                "operationId": "customerCheckins",
                "parameters": [
                    {"type": "string", "description": "Customer ID", "name": "customerId", "in": "path", "required": true},
                    {"type": "integer", "description": "Look-back in days", "name": "days", "in": "query"},
                    {"type": "integer", "description": "Max rows", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad request"}}
            }
        },
        "/checkins/verify": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Checkins"],
                "summary": "Verify a scanned pass",
                "operationId": "verifyCheckin",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/checkins/input-type": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Checkins"],
                "summary": "Classify kiosk input",
                "operationId": "checkinInputType",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Check-in Kiosk API",
	Description:      "Membership cache, segment registry and offline check-in queue for rec-center kiosks.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
