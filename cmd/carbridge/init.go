package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nugget/carbridge/examples"
)

// runInit writes the example config and garage snapshot into dir.
// Existing files are never overwritten. The config may hold broker
// credentials, so it is created owner-only.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing carbridge in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	files := []struct {
		name    string
		content []byte
		perm    fs.FileMode
	}{
		{"config.yaml", examples.ConfigYAML, 0o600},
		{"garage.yaml", examples.GarageYAML, 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content, f.perm)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Fprintf(w, "  ✓ %s\n", path)
		} else {
			fmt.Fprintf(w, "  - %s (exists, kept)\n", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set mqtt.broker in config.yaml, describe your vehicles in garage.yaml,")
	fmt.Fprintln(w, "then run `carbridge render` to preview the discovery documents.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist and reports whether it wrote.
func writeIfMissing(path string, content []byte, perm fs.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
