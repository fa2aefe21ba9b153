package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fsDetector reports the filesystem type name of an existing path.
type fsDetector func(path string) (string, error)

// checkLocalFilesystem refuses journal paths on network mounts, where SQLite's WAL locking
// is unreliable. The database file may not exist yet, so its closest existing ancestor is checked.
func checkLocalFilesystem(path string, detect fsDetector) error {
	if path == "" {
		return errors.New("sqlite path is empty")
	}

	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}

	fsType, err := detect(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}
	if onNetworkMount(fsType) {
		return fmt.Errorf("journal path %q is on network filesystem %q; move journal.path to a local disk", path, fsType)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		dir = parent
	}
}

func onNetworkMount(fsType string) bool {
	switch strings.ToLower(strings.TrimSpace(fsType)) {
	case "nfs", "cifs", "smbfs", "smb2", "afpfs", "webdav":
		return true
	}
	return false
}
