// Package artifacts holds files embedded into the pvfs binary.
package artifacts

import _ "embed"

// Settings is the default settings file written by "pvfs config init" and
// used as the base layer when loading configuration.
//
//go:embed defaults/settings.yaml
var Settings []byte
