package renamer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// copyFile writes the bytes of src to dst, replacing dst if it exists. The
// data goes to a hidden temporary sibling first and is renamed into place,
// so dst is either the old file or a complete copy.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".apkalias-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		return err
	}
	if err = tmp.Chmod(info.Mode().Perm()); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, dst); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) {
			err = &os.PathError{Op: "replace", Path: dst, Err: linkErr.Err}
		}
		return err
	}
	return nil
}
