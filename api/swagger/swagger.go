package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Attendance Sync API",
        "description": "Attendance reconciliation, offline outbox replay and idempotent guardian notifications",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Attendance", "description": "Bulk reconciliation with the admin finalize lock"},
        {"name": "Notifications", "description": "Bulk guardian notifications with duplicate suppression"},
        {"name": "Sync Agent", "description": "Local API served by the sync agent on 127.0.0.1"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is unavailable"}
                }
            }
        },
        "/api/v1/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List attendance records",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "date_from", "in": "query", "type": "string", "format": "date"},
                    {"name": "date_to", "in": "query", "type": "string", "format": "date"},
                    {"name": "class_id", "in": "query", "type": "string"},
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "subject_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid filter", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/attendance/bulk": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Bulk upsert attendance",
                "description": "Rows already finalized by an admin are skipped and reported in data.skipped; X-Attendance-Skipped carries the count.",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpsertAttendanceRequest"}},
                    {"name": "X-Outbox-Batch-ID", "in": "header", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid row", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Finalize requires an administrator", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/attendance/override": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Override a finalized record",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OverrideAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Record not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/attendance/export": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Export the attendance register",
                "produces": ["text/csv", "application/pdf"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "date_from", "in": "query", "type": "string", "format": "date"},
                    {"name": "date_to", "in": "query", "type": "string", "format": "date"},
                    {"name": "class_id", "in": "query", "type": "string"}
                ],
                "responses": {"200": {"description": "File", "schema": {"type": "file"}}}
            }
        },
        "/api/v1/notifications/attendance/bulk": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Send per-day attendance alerts",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AttendanceAlertRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/notifications/term-summary/bulk": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Send term attendance summaries",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TermSummaryRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/local/attendance": {
            "post": {
                "tags": ["Sync Agent"],
                "summary": "Submit attendance, queueing it when the server is unreachable",
                "description": "Written as the caller. finalize=true requires an ADMIN or SUPERADMIN token.",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "Written", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Queued in the outbox", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Missing or invalid token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Finalize without an admin role", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/local/outbox": {
            "get": {
                "tags": ["Sync Agent"],
                "summary": "Outbox status",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Sync Agent"],
                "summary": "Discard every queued batch",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/local/outbox/sync": {
            "post": {
                "tags": ["Sync Agent"],
                "summary": "Replay queued batches now",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Sync result", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Sync already in progress", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/local/outbox/stream": {
            "get": {
                "tags": ["Sync Agent"],
                "summary": "Server-sent count and progress events",
                "description": "EventSource clients pass the token as access_token.",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"name": "access_token", "in": "query", "type": "string"}
                ],
                "responses": {"200": {"description": "Event stream"}}
            }
        }
    },
    "definitions": {
        "AttendanceRecord": {
            "type": "object",
            "required": ["student_id", "class_id", "date", "status"],
            "properties": {
                "student_id": {"type": "string"},
                "class_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "date": {"type": "string", "format": "date"},
                "status": {"type": "string", "enum": ["present", "absent", "late", "excused"]},
                "notes": {"type": "string"},
                "finalized_by_admin": {"type": "boolean"}
            }
        },
        "UpsertAttendanceRequest": {
            "type": "object",
            "properties": {
                "finalize": {"type": "boolean"},
                "rows": {"type": "array", "items": {"$ref": "#/definitions/AttendanceRecord"}}
            }
        },
        "SubmitAttendanceRequest": {
            "type": "object",
            "properties": {
                "finalize": {"type": "boolean"},
                "meta": {"type": "object", "additionalProperties": {"type": "string"}},
                "rows": {"type": "array", "items": {"$ref": "#/definitions/AttendanceRecord"}}
            }
        },
        "OverrideAttendanceRequest": {
            "type": "object",
            "required": ["student_id", "class_id", "date", "status", "reason"],
            "properties": {
                "student_id": {"type": "string"},
                "class_id": {"type": "string"},
                "date": {"type": "string", "format": "date"},
                "status": {"type": "string"},
                "finalized": {"type": "boolean"},
                "reason": {"type": "string"}
            }
        },
        "NotificationCandidate": {
            "type": "object",
            "required": ["recipient_id"],
            "properties": {
                "recipient_id": {"type": "string"},
                "student_id": {"type": "string"},
                "student_name": {"type": "string"},
                "event_date": {"type": "string", "format": "date"},
                "status": {"type": "string"}
            }
        },
        "AttendanceAlertRequest": {
            "type": "object",
            "properties": {
                "candidates": {"type": "array", "items": {"$ref": "#/definitions/NotificationCandidate"}}
            }
        },
        "TermSummaryRequest": {
            "type": "object",
            "properties": {
                "term": {"type": "string"},
                "academic_year": {"type": "string"},
                "term_start": {"type": "string", "format": "date"},
                "term_end": {"type": "string", "format": "date"},
                "candidates": {"type": "array", "items": {"$ref": "#/definitions/NotificationCandidate"}}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
