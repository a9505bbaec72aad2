package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/docent/internal/defaults"
)

// runInit writes an example docent.yaml into dir. An existing file is
// never overwritten.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "docent.yaml")
	written, err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600)
	if err != nil {
		return err
	}
	if !written {
		fmt.Fprintf(w, "%s already exists, leaving it alone\n", configPath)
		return nil
	}

	fmt.Fprintf(w, "Wrote %s\n", configPath)
	fmt.Fprintln(w, "Edit the model and tool_servers sections, then run: docent tools")
	return nil
}

// writeIfMissing reports whether it created path.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
