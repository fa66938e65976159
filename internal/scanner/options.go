package scanner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// OptionsFilename is the per-folder options file the scanner honors.
const OptionsFilename = ".taskdav.toml"

// FolderOptions adjusts how tasks under a folder are scanned. The
// nearest options file at or above a task's directory wins whole;
// options are not merged across levels.
type FolderOptions struct {
	// Sync set to false keeps every task under the folder out of sync
	// cycles. Unset means sync.
	Sync *bool `toml:"sync"`

	// Tags are appended to every scanned task's tags. They never appear
	// in the markdown lines themselves.
	Tags []string `toml:"tags"`

	// Calendar is reserved; collections are single-calendar for now.
	Calendar string `toml:"calendar"`
}

// folderOptions resolves the nearest options file at or above dir,
// stopping at the vault root. Lookups are cached for one scan.
func (s *Scanner) folderOptions(dir string) (*FolderOptions, error) {
	if opts, ok := s.opts[dir]; ok {
		return opts, nil
	}
	opts, err := loadFolderOptions(dir)
	if err != nil {
		return nil, err
	}
	if opts == nil && dir != s.root {
		parent := filepath.Dir(dir)
		if len(parent) < len(dir) {
			opts, err = s.folderOptions(parent)
			if err != nil {
				return nil, err
			}
		}
	}
	s.opts[dir] = opts
	return opts, nil
}

func loadFolderOptions(dir string) (*FolderOptions, error) {
	path := filepath.Join(dir, OptionsFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var opts FolderOptions
	if err := toml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &opts, nil
}
