// Package all registers every staging backend with the stage factory.
// Import it for its side effects when the backend kind comes from config
// rather than code:
//
//	import _ "dimload/stage/all"
package all

import (
	_ "dimload/stage/postgres"
	_ "dimload/stage/sqlite"
	_ "dimload/stage/tsql"
)
