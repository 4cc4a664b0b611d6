package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/temirov/ci-release-publisher/internal/publisherrors"
)

const (
	directoryMissingTemplateConstant       = "artifact directory %q does not exist"
	directoryNotDirectoryTemplateConstant  = "artifact path %q is not a directory"
	directoryEmptyTemplateConstant         = "artifact directory %q is empty"
	directoryInspectErrorTemplateConstant  = "failed to inspect artifact directory %q: %w"
	directoryReadErrorTemplateConstant     = "failed to read artifact directory %q: %w"
	destinationExistsTemplateConstant      = "artifact %q already exists in %q"
	destinationNameInvalidTemplateConstant = "artifact name %q is not a plain file name"
	destinationCreateErrorTemplateConstant = "failed to create artifact %q: %w"
	destinationFilePermissionsConstant     = 0o644
)

// File describes an artifact on disk.
type File struct {
	Name string
	Path string
	Size int64
}

// NormalizeDirectory trims and cleans an artifact directory argument. Blank input stays blank.
func NormalizeDirectory(path string) string {
	trimmedPath := strings.TrimSpace(path)
	if len(trimmedPath) == 0 {
		return ""
	}
	return filepath.Clean(trimmedPath)
}

// ValidateDirectory checks that path is an existing directory. When requireFiles is set the directory must hold
// at least one regular file; subdirectories alone do not count.
func ValidateDirectory(path string, requireFiles bool) error {
	normalizedPath := NormalizeDirectory(path)
	information, statError := os.Stat(normalizedPath)
	if statError != nil {
		if errors.Is(statError, fs.ErrNotExist) {
			return publisherrors.NewConfigurationError(directoryMissingTemplateConstant, normalizedPath)
		}
		return fmt.Errorf(directoryInspectErrorTemplateConstant, normalizedPath, statError)
	}
	if !information.IsDir() {
		return publisherrors.NewConfigurationError(directoryNotDirectoryTemplateConstant, normalizedPath)
	}
	if !requireFiles {
		return nil
	}

	files, listError := ListFiles(normalizedPath)
	if listError != nil {
		return listError
	}
	if len(files) == 0 {
		return publisherrors.NewConfigurationError(directoryEmptyTemplateConstant, normalizedPath)
	}
	return nil
}

// ListFiles returns the regular files directly inside path, sorted by name. Subdirectories are skipped.
func ListFiles(path string) ([]File, error) {
	entries, readError := os.ReadDir(path)
	if readError != nil {
		return nil, fmt.Errorf(directoryReadErrorTemplateConstant, path, readError)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		entryPath := filepath.Join(path, entry.Name())
		information, statError := os.Stat(entryPath)
		if statError != nil {
			return nil, fmt.Errorf(directoryInspectErrorTemplateConstant, entryPath, statError)
		}
		if !information.Mode().IsRegular() {
			continue
		}
		files = append(files, File{Name: entry.Name(), Path: entryPath, Size: information.Size()})
	}

	sort.Slice(files, func(leftIndex int, rightIndex int) bool {
		return files[leftIndex].Name < files[rightIndex].Name
	})
	return files, nil
}

// CreateDestination creates a new file named name inside directory. Existing files are never overwritten.
func CreateDestination(directory string, name string) (*os.File, error) {
	if len(name) == 0 || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, publisherrors.NewConfigurationError(destinationNameInvalidTemplateConstant, name)
	}

	destinationPath := filepath.Join(directory, name)
	file, openError := os.OpenFile(destinationPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, destinationFilePermissionsConstant)
	if openError != nil {
		if errors.Is(openError, fs.ErrExist) {
			return nil, publisherrors.NewConfigurationError(destinationExistsTemplateConstant, name, directory)
		}
		return nil, fmt.Errorf(destinationCreateErrorTemplateConstant, destinationPath, openError)
	}
	return file, nil
}
