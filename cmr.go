// Package cmr holds the embedded web resources of the granule link
// reconciliation service.
package cmr

import "embed"

//go:embed templates static docs
var Files embed.FS
