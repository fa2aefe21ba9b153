//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// statfs f_type values of network filesystems.
const (
	nfsMagic  = 0x6969
	cifsMagic = 0xFF534D42
	smbMagic  = 0x517B
	smb2Magic = 0xFE534D42
)

func detectFilesystemType(path string) (string, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	switch uint64(stat.Type) {
	case nfsMagic:
		return "nfs", nil
	case cifsMagic:
		return "cifs", nil
	case smbMagic:
		return "smbfs", nil
	case smb2Magic:
		return "smb2", nil
	default:
		return fmt.Sprintf("0x%x", uint64(stat.Type)), nil
	}
}
