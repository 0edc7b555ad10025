// Package all registers all built-in supervision backends.
//
// Import for side effects:
//
//	import _ "github.com/kuzco-tools/kuzcoctl/internal/backend/all"
package all

import (
	_ "github.com/kuzco-tools/kuzcoctl/internal/backend/raw"
	_ "github.com/kuzco-tools/kuzcoctl/internal/backend/screen"
	_ "github.com/kuzco-tools/kuzcoctl/internal/backend/systemd"
)
