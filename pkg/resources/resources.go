// Package resources provides embedded resource management for the guard
// selection core. This package uses Go's embed package to bundle the
// fallback directory authority list directly into the binary, so a fresh
// client has somewhere to fetch its first consensus from.
package resources

import (
	"bufio"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Embed the fallback directory authority list into the binary.
//
//go:embed fallback-dirs.txt
var embeddedFS embed.FS

// GetFallbackAuthorities returns the list of fallback directory authorities.
// Returns a slice of URLs for directory authorities.
func GetFallbackAuthorities() ([]string, error) {
	data, err := embeddedFS.ReadFile("fallback-dirs.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded fallback directories: %w", err)
	}

	authorities := make([]string, 0, 10)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Validate it looks like a URL
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			authorities = append(authorities, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse fallback directories: %w", err)
	}

	if len(authorities) == 0 {
		return nil, fmt.Errorf("no valid fallback directories found")
	}

	return authorities, nil
}

// ExtractResource extracts an embedded resource to the specified destination path.
// This is a generic function for extracting any embedded resource.
func ExtractResource(resourcePath string, destPath string) error {
	// Read from embedded filesystem
	data, err := embeddedFS.ReadFile(resourcePath)
	if err != nil {
		return fmt.Errorf("failed to read embedded resource %s: %w", resourcePath, err)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write file with secure permissions
	if err := os.WriteFile(destPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write resource: %w", err)
	}

	return nil
}

// ValidateExtraction verifies that an extracted file matches the embedded resource.
// Returns true if the file matches the embedded resource.
func ValidateExtraction(resourcePath string, destPath string) (bool, error) {
	// Read embedded resource
	embeddedData, err := embeddedFS.ReadFile(resourcePath)
	if err != nil {
		return false, fmt.Errorf("failed to read embedded resource: %w", err)
	}

	// Read extracted file
	extractedData, err := os.ReadFile(destPath)
	if err != nil {
		return false, fmt.Errorf("failed to read extracted file: %w", err)
	}

	// Compare content
	if len(embeddedData) != len(extractedData) {
		return false, nil
	}

	for i := range embeddedData {
		if embeddedData[i] != extractedData[i] {
			return false, nil
		}
	}

	return true, nil
}

// ListEmbeddedResources returns a list of all embedded resource paths.
func ListEmbeddedResources() ([]string, error) {
	var resources []string

	err := walkEmbedFS(embeddedFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			resources = append(resources, path)
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list embedded resources: %w", err)
	}

	return resources, nil
}

// walkEmbedFS walks the embedded filesystem similar to filepath.WalkDir
func walkEmbedFS(fsys embed.FS, root string, fn func(path string, d fs.DirEntry, err error) error) error {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return fn(root, nil, err)
	}

	for _, entry := range entries {
		path := entry.Name()
		if root != "." {
			path = filepath.Join(root, entry.Name())
		}
		if err := fn(path, entry, nil); err != nil {
			return err
		}

		if entry.IsDir() {
			if err := walkEmbedFS(fsys, path, fn); err != nil {
				return err
			}
		}
	}

	return nil
}
