// Package docs holds the OpenAPI document served under /swagger/.
// Regenerate with: swag init -g internal/api/router.go
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
        "/capsules": {
            "post": {
                "description": "Locks an asset for the owner's heir until the unlock condition holds",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["capsules"],
                "summary": "Create capsule",
                "parameters": [
                    {
                        "description": "Capsule data",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/model.CreateCapsuleRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.CreateCapsuleResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/capsules/checkin": {
            "post": {
                "description": "Records owner activity, restarting the inactivity period of a capsule",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["capsules"],
                "summary": "Owner check-in",
                "parameters": [
                    {
                        "description": "Check-in data",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/model.CheckinRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.CheckinResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/capsules/lookup": {
            "get": {
                "description": "Returns the stored record of a capsule with its current ledger state",
                "produces": ["application/json"],
                "tags": ["capsules"],
                "summary": "Look up capsule",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Capsule address",
                        "name": "address",
                        "in": "query",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.CapsuleLookupResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/capsules/release": {
            "post": {
                "description": "Moves the asset of an unlocked capsule to its heir",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["capsules"],
                "summary": "Release capsule",
                "parameters": [
                    {
                        "description": "Release data",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/model.ReleaseCapsuleRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ReleaseCapsuleResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "description": "Reports whether the database is reachable",
                "produces": ["application/json"],
                "tags": ["ops"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/model.HealthResponse"}}
                }
            }
        },
        "/wallets": {
            "post": {
                "description": "Generates a wallet for a new owner or heir and stores its sealed key",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Generate custodial wallet",
                "parameters": [
                    {
                        "description": "Wallet holder",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/model.WalletRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.WalletResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/wallets/info": {
            "get": {
                "description": "Returns the SOL balance of an owner or heir wallet and, with mint, its token balance",
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Wallet balance",
                "parameters": [
                    {"type": "integer", "description": "Owner id", "name": "userId", "in": "query"},
                    {"type": "integer", "description": "Heir id", "name": "heirId", "in": "query"},
                    {"type": "string", "description": "Token mint", "name": "mint", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.WalletInfoResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/wallets/transfer": {
            "post": {
                "description": "Sends SOL from an owner or heir wallet",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Transfer SOL",
                "parameters": [
                    {
                        "description": "Transfer data",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/model.TransferRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.TransferResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/wallets/transfer-nft": {
            "post": {
                "description": "Sends an NFT from an owner or heir wallet",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Transfer NFT",
                "parameters": [
                    {
                        "description": "Transfer data",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/model.TransferRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.TransferResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/wallets/transfer-spl": {
            "post": {
                "description": "Sends tokens of a mint from an owner or heir wallet, creating the destination token account when needed",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Transfer SPL tokens",
                "parameters": [
                    {
                        "description": "Transfer data",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/model.TransferRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.TransferResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "model.CapsuleLookupResponse": {
            "type": "object",
            "properties": {
                "address": {"type": "string"},
                "amount": {"type": "string"},
                "assetKind": {"type": "string"},
                "capsuleId": {"type": "string"},
                "conditionMet": {"type": "boolean"},
                "heirEmail": {"type": "string"},
                "isLocked": {"type": "boolean"},
                "onLedger": {"type": "boolean"},
                "status": {"type": "string", "enum": ["locked", "pending", "claimed"]},
                "unlockAt": {"type": "string"},
                "unlockMode": {"type": "string"}
            }
        },
        "model.CheckinRequest": {
            "type": "object",
            "properties": {
                "capsuleId": {"type": "string"},
                "ownerId": {"type": "integer"}
            }
        },
        "model.CheckinResponse": {
            "type": "object",
            "properties": {
                "txId": {"type": "string"}
            }
        },
        "model.CreateCapsuleRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "string"},
                "approvers": {"type": "array", "items": {"type": "string"}},
                "assetKind": {"type": "string", "description": "one of native, fungible, nft, document, message"},
                "format": {"type": "string"},
                "heirEmail": {"type": "string"},
                "inactivityPeriod": {"type": "integer"},
                "message": {"type": "string"},
                "mint": {"type": "string"},
                "ownerId": {"type": "integer"},
                "threshold": {"type": "integer"},
                "unlockMode": {"type": "string", "description": "time_based or inactivity_based"},
                "unlockTimestamp": {"type": "integer"},
                "uri": {"type": "string"}
            }
        },
        "model.CreateCapsuleResponse": {
            "type": "object",
            "properties": {
                "address": {"type": "string"},
                "capsuleId": {"type": "string"},
                "txId": {"type": "string"}
            }
        },
        "model.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "model.HealthResponse": {
            "type": "object",
            "properties": {
                "database": {"type": "string"},
                "status": {"type": "string"}
            }
        },
        "model.ReleaseCapsuleRequest": {
            "type": "object",
            "properties": {
                "address": {"type": "string"},
                "heirId": {"type": "integer"}
            }
        },
        "model.ReleaseCapsuleResponse": {
            "type": "object",
            "properties": {
                "address": {"type": "string"},
                "assetKind": {"type": "string"},
                "capsuleId": {"type": "string"},
                "txId": {"type": "string"}
            }
        },
        "model.WalletRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "fullname": {"type": "string"},
                "role": {"type": "string", "enum": ["owner", "heir"]},
                "userId": {"type": "integer"}
            }
        },
        "model.TransferRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "string"},
                "destination": {"type": "string"},
                "heirId": {"type": "integer"},
                "mint": {"type": "string"},
                "userId": {"type": "integer"}
            }
        },
        "model.TransferResponse": {
            "type": "object",
            "properties": {
                "txId": {"type": "string"}
            }
        },
        "model.WalletInfoResponse": {
            "type": "object",
            "properties": {
                "address": {"type": "string"},
                "decimals": {"type": "integer"},
                "lamports": {"type": "integer"},
                "mint": {"type": "string"},
                "sol": {"type": "string"},
                "tokenAmount": {"type": "string"},
                "tokenRaw": {"type": "integer"}
            }
        },
        "model.WalletResponse": {
            "type": "object",
            "properties": {
                "QR": {"type": "string"},
                "address": {"type": "string"},
                "id": {"type": "integer"},
                "role": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Legacy Capsule API",
	Description:      "Custodial inheritance capsules on Solana.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
