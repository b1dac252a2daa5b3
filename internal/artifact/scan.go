package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// List returns the regular files directly inside dir whose names end with
// "."+ext, sorted by name. Symlinks count when their target is a regular
// file. The boolean reports whether dir exists; a missing directory is not
// an error. Any other stat failure is reported with exists set, since the
// directory may well be there.
func List(dir, ext string) ([]File, bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, true, fmt.Errorf("artifact: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, false, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, true, fmt.Errorf("artifact: list %s: %w", dir, err)
	}
	var files []File
	for _, entry := range entries {
		name := entry.Name()
		if !Matches(name, ext) {
			continue
		}
		fi, ok := regularInfo(dir, entry)
		if !ok {
			continue
		}
		files = append(files, File{
			Dir:     dir,
			Name:    name,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, true, nil
}

// Matches reports whether name has the artifact extension.
func Matches(name, ext string) bool {
	return strings.HasSuffix(name, "."+strings.TrimPrefix(ext, "."))
}

// regularInfo resolves entry to a regular file, following one level of
// symlink. Entries removed since ReadDir and dangling links are dropped.
func regularInfo(dir string, entry fs.DirEntry) (fs.FileInfo, bool) {
	switch mode := entry.Type(); {
	case mode.IsRegular():
		fi, err := entry.Info()
		return fi, err == nil
	case mode&fs.ModeSymlink != 0:
		fi, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil || !fi.Mode().IsRegular() {
			return nil, false
		}
		return fi, true
	default:
		return nil, false
	}
}
