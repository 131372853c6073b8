package router

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func registerSwaggerRoutes(r chi.Router) {
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
	})

	r.Get("/swagger/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, swaggerHTML, "/swagger/openapi.json")
	})

	r.Get("/swagger/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(openAPI))
	})
}

const swaggerHTML = `<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Credit Loan Processor API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      window.ui = SwaggerUIBundle({
        url: "%s",
        dom_id: "#swagger-ui"
      });
    };
  </script>
</body>
</html>`

const openAPI = `{
  "openapi": "3.0.3",
  "info": {
    "title": "Credit Loan Processor API",
    "version": "3.0.0"
  },
  "paths": {
    "/v3/accounts/{accountId}/loans": {
      "post": {
        "summary": "Borrow from a source account into an account the caller owns",
        "security": [{"BasicAuth": []}],
        "parameters": [
          {"$ref": "#/components/parameters/AccountId"},
          {"$ref": "#/components/parameters/IdempotencyKey"}
        ],
        "requestBody": {"$ref": "#/components/requestBodies/LoanRequest"},
        "responses": {
          "201": {"description": "Funds moved and loan registered"},
          "202": {"description": "Funds moved, loan registration pending"},
          "400": {"description": "Validation error or credit limit exceeded"},
          "401": {"description": "Unauthorized"},
          "403": {"description": "Caller does not own the account"},
          "404": {"description": "Account not found"},
          "409": {"description": "Concurrent update or duplicate request in progress"},
          "422": {"description": "Insufficient balance, inactive account or reused idempotency key"},
          "500": {"description": "Server error"},
          "503": {"description": "Credit policy or loan registry unavailable"}
        }
      }
    },
    "/v3/accounts/admin/{accountId}/loans": {
      "post": {
        "summary": "Borrow into any account (ADMIN role)",
        "security": [{"BasicAuth": []}],
        "parameters": [
          {"$ref": "#/components/parameters/AccountId"},
          {"$ref": "#/components/parameters/IdempotencyKey"}
        ],
        "requestBody": {"$ref": "#/components/requestBodies/LoanRequest"},
        "responses": {
          "201": {"description": "Funds moved and loan registered"},
          "202": {"description": "Funds moved, loan registration pending"},
          "400": {"description": "Validation error or credit limit exceeded"},
          "401": {"description": "Unauthorized"},
          "403": {"description": "ADMIN role required"},
          "404": {"description": "Account not found"},
          "409": {"description": "Concurrent update or duplicate request in progress"},
          "422": {"description": "Insufficient balance, inactive account or reused idempotency key"},
          "500": {"description": "Server error"},
          "503": {"description": "Credit policy or loan registry unavailable"}
        }
      }
    },
    "/v3/loans/{loanId}": {
      "get": {
        "summary": "Get a loan record (ADMIN role)",
        "security": [{"BasicAuth": []}],
        "parameters": [
          {"name": "loanId", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {"description": "Loan record"},
          "401": {"description": "Unauthorized"},
          "403": {"description": "ADMIN role required"},
          "404": {"description": "Loan not found"},
          "500": {"description": "Server error"}
        }
      }
    },
    "/health": {
      "get": {
        "summary": "Liveness check",
        "responses": {
          "200": {"description": "OK"}
        }
      }
    }
  },
  "components": {
    "parameters": {
      "AccountId": {
        "name": "accountId",
        "in": "path",
        "required": true,
        "schema": {"type": "string"}
      },
      "IdempotencyKey": {
        "name": "X-Idempotency-Key",
        "in": "header",
        "required": false,
        "schema": {"type": "string", "maxLength": 255}
      }
    },
    "requestBodies": {
      "LoanRequest": {
        "required": true,
        "content": {
          "application/json": {
            "schema": {
              "type": "object",
              "required": ["sourceAccountId", "amount"],
              "properties": {
                "sourceAccountId": {"type": "string"},
                "amount": {"type": "string", "example": "100.00"}
              }
            }
          }
        }
      }
    },
    "securitySchemes": {
      "BasicAuth": {
        "type": "http",
        "scheme": "basic"
      }
    }
  }
}`
