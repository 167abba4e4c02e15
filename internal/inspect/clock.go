package inspect

import "time"

var processStart = time.Now()

func sinceStart() uint64 {
	return uint64(time.Since(processStart))
}
