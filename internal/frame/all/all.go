// Package all registers every engine backend. Blank-import it from binaries
// that select a backend by configuration.
package all

import (
	_ "profiler/internal/frame/mssqlframe"
	_ "profiler/internal/frame/pgframe"
	_ "profiler/internal/frame/sqliteframe"
)
