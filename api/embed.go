// Package api embeds the HTTP API description served at /api/docs.
package api

import _ "embed"

// OpenAPISpec is the OpenAPI 3.0 document for the ccEPG HTTP API.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
