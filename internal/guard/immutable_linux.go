//go:build linux

package guard

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fsImmutableFL — FS_IMMUTABLE_FL из linux/fs.h.
const fsImmutableFL = 0x00000010

func getImmutable(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	flags, err := unix.IoctlGetUint32(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		return false, fmt.Errorf("get flags %s: %w", path, err)
	}
	return flags&fsImmutableFL != 0, nil
}

func setImmutable(path string, on bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fd := int(f.Fd())
	flags, err := unix.IoctlGetUint32(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return fmt.Errorf("get flags %s: %w", path, err)
	}

	want := flags &^ fsImmutableFL
	if on {
		want = flags | fsImmutableFL
	}
	if want == flags {
		return nil
	}

	if err := unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, int(want)); err != nil {
		return fmt.Errorf("set flags %s: %w", path, err)
	}
	return nil
}
