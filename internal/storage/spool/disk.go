// disk.go — ёмкость диска под спулом.
// Платформозависимый код для Unix-подобных систем.
package spool

import (
	"fmt"
	"syscall"
)

// DiskUsage возвращает total, used, available в байтах для директории спула.
func (s *Spool) DiskUsage() (total, used, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.dir, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("ошибка statfs %s: %w", s.dir, err)
	}

	total = int64(stat.Blocks) * int64(stat.Bsize)
	available = int64(stat.Bavail) * int64(stat.Bsize)
	used = total - available

	return total, used, available, nil
}
