package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Attendly API",
        "description": "QR-code attendance session service",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Authentication"},
        {"name": "Sessions", "description": "Check-in session lifecycle"},
        {"name": "Attendance", "description": "Attendance recording and listing"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with email and password",
                "responses": {
                    "200": {"description": "Token issued"},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/sessions": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Open a new check-in session",
                "responses": {
                    "201": {"description": "Session opened"},
                    "400": {"description": "Invalid payload"},
                    "403": {"description": "Not an admin"}
                }
            }
        },
        "/sessions/active": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Fetch the currently active session",
                "responses": {
                    "200": {"description": "Active session"},
                    "404": {"description": "No active session"}
                }
            }
        },
        "/sessions/{id}/qr": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Render the scannable payload for a session",
                "responses": {
                    "200": {"description": "QR payload"},
                    "404": {"description": "Session not found"}
                }
            }
        },
        "/sessions/{id}/expire": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Close a session and materialize absentees",
                "responses": {
                    "200": {"description": "Absentee count"},
                    "404": {"description": "Session not found"}
                }
            }
        },
        "/attendance": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Check the authenticated principal into a session",
                "responses": {
                    "201": {"description": "First check-in"},
                    "200": {"description": "Already recorded"},
                    "404": {"description": "Session not found"},
                    "409": {"description": "Session inactive"},
                    "410": {"description": "Session expired"}
                }
            }
        },
        "/attendance/me": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List own attendance, newest first",
                "responses": {
                    "200": {"description": "Attendance records"}
                }
            }
        },
        "/attendance/sessions/{id}": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List every record a session holds",
                "responses": {
                    "200": {"description": "Attendance records"},
                    "404": {"description": "Session not found"}
                }
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
