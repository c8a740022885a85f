package watcher

import (
	"os"
	"path/filepath"
)

// collectRecursiveDirs returns root and every directory below it, following
// symlinked directories. Paths keep the form they are reached by so event
// names stay under the configured root. Each real directory is visited once
// to survive symlink cycles.
func collectRecursiveDirs(root string) []string {
	dirs := []string{}
	seen := make(map[string]struct{})
	var walk func(path string)
	walk = func(path string) {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return
		}
		if _, ok := seen[real]; ok {
			return
		}
		seen[real] = struct{}{}
		dirs = append(dirs, path)

		entries, err := os.ReadDir(path)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
				walk(filepath.Join(path, entry.Name()))
			}
		}
	}
	walk(root)
	return dirs
}
