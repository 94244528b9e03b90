package utils

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

func UnpackTarGz(tarGzFile string, dstFolder string) error {
	cmd := exec.Command("tar", "-xzf", tarGzFile, "-C", dstFolder)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to unpack tar.gz file: %w", err)
	}
	return nil
}

// IsTarGz reports whether file starts with the gzip magic number.
func IsTarGz(file string) bool {
	fileHandle, err := os.Open(file)
	if err != nil {
		return false
	}
	defer fileHandle.Close()

	magic := make([]byte, 2)
	if _, err := io.ReadFull(fileHandle, magic); err != nil {
		return false
	}
	return magic[0] == 0x1f && magic[1] == 0x8b
}

func Unzip(zipFile, dstFolder string) error {
	cmd := exec.Command("unzip", zipFile, "-d", dstFolder)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to unzip file: %w", err)
	}
	return nil
}
