package utils

import (
	"os"
	"path/filepath"
)

// CreateFileAndWrite creates a file with the given path, creating parent
// directories as needed, and writes the given contents.
func CreateFileAndWrite(path string, contents []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()
	if _, err := file.Write(contents); err != nil {
		return err
	}
	return nil
}

// AppendToFile appends the given lines to the file at [path],
// creating it if it doesn't exist. A trailing newline is added
// after every line.
func AppendToFile(path string, lines []string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()
	for _, line := range lines {
		if _, err := file.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}
