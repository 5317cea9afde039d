// Package schemasassets provides embedded JSON schemas.
//
// Schemas are compiled into the binary so validation works regardless of the
// working directory or installation location.
package schemasassets

import _ "embed"

// JobRequestSchema is the embedded job-request JSON schema.
//
//go:embed job-request.schema.json
var JobRequestSchema []byte
