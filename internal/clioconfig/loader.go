package clioconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirName is the per-project state directory.
const DirName = ".clio"

// ProjectDir returns the .clio directory for a working directory,
// honoring CLIO_HOME as an override. On platforms where the computed
// location is not writable it falls back to Documents/.clio, then cwd.
func ProjectDir(workingDir string) string {
	if home := os.Getenv("CLIO_HOME"); home != "" {
		return home
	}
	candidates := []string{
		filepath.Join(workingDir, DirName),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "Documents", DirName))
	}
	candidates = append(candidates, filepath.Join(".", DirName))

	for _, dir := range candidates {
		if writable(dir) {
			return dir
		}
	}
	return candidates[0]
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	probe := filepath.Join(dir, fmt.Sprintf(".probe-%d", os.Getpid()))
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return false
	}
	os.Remove(probe)
	return true
}

// Load reads dir/config.json, layering it over Default(). A missing file
// yields the defaults; a corrupt file is an error, never a silent reset.
func Load(dir string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config atomically (tmp + rename).
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.json")
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

// EnsureGitignore makes the project .gitignore cover .clio/* with
// instructions.md as the one tracked exception. Legacy fine-grained
// entries from earlier layouts are removed.
func EnsureGitignore(workingDir string) error {
	const (
		wildcard  = ".clio/*"
		exception = "!.clio/instructions.md"
	)
	legacy := map[string]bool{
		".clio/sessions/":     true,
		".clio/ltm.json":      true,
		".clio/vault/":        true,
		".clio/tool_results/": true,
		".clio/logs/":         true,
		".clio/config.json":   true,
	}

	path := filepath.Join(workingDir, ".gitignore")
	var lines []string
	changed := false
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if legacy[strings.TrimSpace(line)] {
				changed = true
				continue
			}
			lines = append(lines, line)
		}
		// Drop a trailing blank kept by the split.
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read .gitignore: %w", err)
	}

	have := map[string]bool{}
	for _, line := range lines {
		have[strings.TrimSpace(line)] = true
	}
	if !have[wildcard] {
		lines = append(lines, wildcard)
		changed = true
	}
	if !have[exception] {
		lines = append(lines, exception)
		changed = true
	}
	if !changed {
		return nil
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}
