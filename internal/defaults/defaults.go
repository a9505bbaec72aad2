// Package defaults provides the embedded example configuration written
// by the docent init subcommand.
package defaults

import _ "embed"

//go:embed docent.example.yaml
var ConfigYAML []byte
