package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// resolveVarsPath expands environment variables and a leading ~ in a vars
// file entry. Relative results are taken from configDir.
func resolveVarsPath(configDir, file string) string {
	path := os.ExpandEnv(file)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}
	return path
}

// loadVarsFiles reads the YAML vars files available to notice templates.
// Files are merged in order, so a later file wins on the same key.
func loadVarsFiles(configDir string, files []string) (map[string]any, error) {
	merged := make(map[string]any)

	for _, file := range files {
		data, err := os.ReadFile(resolveVarsPath(configDir, file))
		if err != nil {
			return nil, fmt.Errorf("read vars file %q: %w", file, err)
		}

		var vars map[string]any
		if err := yaml.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("parse vars file %q: %w", file, err)
		}

		mergeMaps(merged, vars)
	}

	return merged, nil
}

// mergeMaps folds src into dst. Maps on both sides merge key by key and any
// other value in src replaces the one in dst.
func mergeMaps(dst, src map[string]any) {
	for key, v := range src {
		srcMap, ok := v.(map[string]any)
		if !ok {
			dst[key] = v
			continue
		}

		if dstMap, ok := dst[key].(map[string]any); ok {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = srcMap
	}
}
