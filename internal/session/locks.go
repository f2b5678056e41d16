package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// staleLockNames are the singleton lock artifacts a crashed automation
// process leaves behind in a workspace profile. A surviving lock blocks the
// next launch with a "profile is already in use" failure.
var staleLockNames = []string{
	"SingletonLock",
	"SingletonCookie",
	"SingletonSocket",
	"lockfile",
}

// CleanStaleLocks removes leftover singleton lock files from a workspace
// profile directory. It returns how many were removed. A missing profile
// directory is not an error; the first launch creates it.
func CleanStaleLocks(profileDir string) (int, error) {
	if _, err := os.Stat(profileDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	var errs []error
	for _, name := range staleLockNames {
		path := filepath.Join(profileDir, name)
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}
