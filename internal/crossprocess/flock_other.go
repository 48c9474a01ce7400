//go:build !windows && !darwin && !dragonfly && !freebsd && !illumos && !linux && !netbsd && !openbsd

package crossprocess

import (
	"errors"
	"os"
	"runtime"
)

const removeOnRelease = false

func lockFile(*os.File) error {
	return errors.New("cross-process locking not supported on " + runtime.GOOS)
}

func unlockFile(*os.File) error {
	return nil
}
