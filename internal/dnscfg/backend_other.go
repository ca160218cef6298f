//go:build !linux && !darwin && !windows

package dnscfg

import (
	"fmt"
	"runtime"
)

func newPlatformBackend() (Backend, error) {
	return nil, fmt.Errorf("no DNS backend for %s", runtime.GOOS)
}
