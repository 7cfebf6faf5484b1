package diagnostics

import (
	"io/fs"
	"path/filepath"
)

// excludedDirs lists directory names skipped by the workspace fallback sweep.
var excludedDirs = map[string]bool{
	"target":       true,
	".git":         true,
	"node_modules": true,
	".idea":        true,
	".vscode":      true,
}

// WalkWorkspace enumerates the files under root, skipping the fixed
// excludelist, and returns at most cap absolute paths. The sweep is purely
// mechanical: every non-directory entry is returned, with no filtering by
// extension or file contents.
func WalkWorkspace(root string, cap int) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if len(files) >= cap {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if path != root && excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, path)
		if len(files) >= cap {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
