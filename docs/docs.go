// Package docs holds the OpenAPI description served under /docs and
// rendered by the swagger UI.
package docs

import "embed"

// FS contains swagger.json.
//
//go:embed swagger.json
var FS embed.FS
