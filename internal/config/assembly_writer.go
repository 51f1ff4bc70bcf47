package config

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const assemblyFileMode fs.FileMode = 0o644

// WriteAssemblyFile validates an assembly and replaces the file at path with
// it. An existing file keeps its permissions. The content is synced before
// the rename so a running AssemblyWatcher only ever loads a complete tree.
func WriteAssemblyFile(path string, assembly *Assembly) error {
	if err := assembly.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid assembly: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(assembly); err != nil {
		return fmt.Errorf("failed to encode assembly: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode assembly: %w", err)
	}

	mode := assemblyFileMode
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	staged, err := os.CreateTemp(dir, "."+base+".staged-*")
	if err != nil {
		return fmt.Errorf("failed to stage assembly in %s: %w", dir, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = staged.Close()
			_ = os.Remove(staged.Name())
		}
	}()

	if _, err := staged.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to stage assembly: %w", err)
	}
	if err := staged.Chmod(mode); err != nil {
		return fmt.Errorf("failed to set mode on staged assembly: %w", err)
	}
	if err := staged.Sync(); err != nil {
		return fmt.Errorf("failed to sync staged assembly: %w", err)
	}
	if err := staged.Close(); err != nil {
		return fmt.Errorf("failed to close staged assembly: %w", err)
	}
	if err := os.Rename(staged.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %q: %w", path, err)
	}
	committed = true
	return nil
}
