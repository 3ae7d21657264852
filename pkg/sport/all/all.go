// Package all registers every serial backend of this module: the real ones
// and the in-memory virtual one. Import it for its side effects from
// binaries or applications:
//
//	import _ "github.com/justengel/goiridium9602/pkg/sport/all"
package all

import (
	_ "github.com/justengel/goiridium9602/pkg/sport/bugst"
	_ "github.com/justengel/goiridium9602/pkg/sport/tarm"
	_ "github.com/justengel/goiridium9602/pkg/sport/virtual"
)
