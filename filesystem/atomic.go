package filesystem

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFileAtomic writes data to path through a sibling temporary file and a
// rename, so that path always reflects either its previous contents or the
// complete new contents.
func WriteFileAtomic(path string, data []byte, permissions os.FileMode) error {
	// Create a temporary file. os.CreateTemp already uses secure permissions
	// for creating the temporary file, so we don't need to specify any.
	dirname, basename := filepath.Split(path)
	temporary, err := os.CreateTemp(dirname, basename)
	if err != nil {
		return errors.Wrap(err, "unable to create temporary file")
	}

	// Write data.
	if _, err = temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return errors.Wrap(err, "unable to write data to temporary file")
	}

	// Close out the file.
	if err = temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return errors.Wrap(err, "unable to close temporary file")
	}

	// Set the file's permissions.
	if err = os.Chmod(temporary.Name(), permissions); err != nil {
		os.Remove(temporary.Name())
		return errors.Wrap(err, "unable to change file permissions")
	}

	// Rename the file.
	if err = os.Rename(temporary.Name(), path); err != nil {
		os.Remove(temporary.Name())
		return errors.Wrap(err, "unable to rename file")
	}

	// Success.
	return nil
}

// CopyFile copies the contents of source to destination through a sibling
// temporary file and a rename. The destination's previous contents survive
// any failure.
func CopyFile(source, destination string) (int64, error) {
	// Open the source.
	from, err := os.Open(source)
	if err != nil {
		return 0, errors.Wrap(err, "unable to open source file")
	}
	defer from.Close()

	// Create a sibling temporary file for the destination.
	dirname, basename := filepath.Split(destination)
	temporary, err := os.CreateTemp(dirname, basename)
	if err != nil {
		return 0, errors.Wrap(err, "unable to create temporary file")
	}

	// Copy contents.
	copied, err := io.Copy(temporary, from)
	if err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return 0, errors.Wrap(err, "unable to copy contents")
	}

	// Close out the file.
	if err = temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return 0, errors.Wrap(err, "unable to close temporary file")
	}

	// Rename the file.
	if err = os.Rename(temporary.Name(), destination); err != nil {
		os.Remove(temporary.Name())
		return 0, errors.Wrap(err, "unable to rename file")
	}

	// Success.
	return copied, nil
}
