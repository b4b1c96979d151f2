package fileutil

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// FileExists returns true if a file or directory with the given path exists.
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// IsDir returns true if a directory with the given path exists.
func IsDir(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && info.IsDir()
}

// SameFile returns true if the two paths refer to the same file on disk. It
// returns false if either path does not exist.
func SameFile(a string, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// CopyFile copies the file at src to dst, truncating dst if it already
// exists. The destination is synced to disk before close.
func CopyFile(src string, dst string) error {
	log.Debugf("copying: %s --> %s", src, dst)

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %v", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %v", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy file contents: %v", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync destination file: %v", err)
	}

	return out.Close()
}
