// Package schema embeds the JSON schemas used to validate catalog imports.
package schema

import "embed"

//go:embed *.schema.json
var FS embed.FS
