package cache

// #region imports
import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
)

// #endregion

// #region format-version

// formatVersion is folded into every key so a cache layout change
// invalidates old entries instead of mis-restoring them.
const formatVersion = "upm-cache-v1"

// #endregion format-version

// #region key

// Key computes the content-addressed cache key for a task: a SHA-256 over
// what actually runs (command, dir, sorted env) and the digest of every
// file matched by its input globs. The task's ID is deliberately not
// part of the key, so renaming a task keeps its cache.
func Key(taskDir string, spec config.TaskSpec) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", formatVersion, spec.Command)
	fmt.Fprintf(h, "dir=%s\x00", spec.Dir)

	envKeys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		fmt.Fprintf(h, "env=%s=%s\x00", k, spec.Env[k])
	}

	files, err := expandGlobs(taskDir, spec.Inputs)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		rel, err := filepath.Rel(taskDir, f)
		if err != nil {
			rel = f
		}
		digest, err := fileDigest(f)
		if err != nil {
			return "", fmt.Errorf("digest %s: %w", rel, err)
		}
		fmt.Fprintf(h, "file=%s=%s\x00", rel, digest)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// #endregion key

// #region glob

// expandGlobs resolves globs relative to dir to a sorted, de-duplicated
// list of regular files. A pattern matching nothing is not an error.
func expandGlobs(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		p := pattern
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// #endregion glob

// #region digest

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// #endregion digest
