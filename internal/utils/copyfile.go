package utils

import (
	"fmt"
	"io"
	"os"
)

// CopyFile copies the regular file src to dst, replacing dst. The copy is
// readable by everyone regardless of the mode of src.
func CopyFile(src, dst string) (err error) {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	destination, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0444)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := destination.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	n, err := io.Copy(destination, source)
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if n != info.Size() {
		return fmt.Errorf("incomplete copy of %s: %d of %d bytes", src, n, info.Size())
	}
	return nil
}
