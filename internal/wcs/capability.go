package wcs

import (
	"os"
	"sync"
)

// The projection engine can be absent in stripped-down deployments. The
// capability is resolved once at first use; every public operation
// checks it and reports ErrUnavailable instead of failing deeper in.

var (
	availOnce sync.Once
	avail     bool
)

// Available reports whether the WCS subsystem can be used in this
// process. Setting LS_ASTROM_NO_WCS disables it.
func Available() bool {
	availOnce.Do(func() {
		avail = os.Getenv("LS_ASTROM_NO_WCS") == ""
	})
	return avail
}
