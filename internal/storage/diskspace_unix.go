//go:build linux || darwin || freebsd

package storage

import "golang.org/x/sys/unix"

// diskSpace returns free and total bytes on the filesystem holding path.
func diskSpace(path string) (free, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return uint64(st.Bavail) * bsize, uint64(st.Blocks) * bsize, nil
}
