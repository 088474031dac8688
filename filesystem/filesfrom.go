package filesystem

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ReadFilesFrom reads a file list in the files-from format: one relative path
// per line, with blank lines and lines starting with '#' ignored. Paths are
// normalized to forward slashes.
func ReadFilesFrom(path string) ([]string, error) {
	// Open the list file.
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open file list")
	}
	defer file.Close()

	// Read entries.
	var result []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result = append(result, strings.ReplaceAll(line, "\\", "/"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to read file list")
	}

	// Success.
	return result, nil
}
