// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveDir expands a leading "~" and resolves workDir to an absolute path,
// returning an error if it does not exist or is not a directory.
func resolveDir(workDir string) (string, error) {
	path := workDir
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory does not exist: %s", workDir)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", workDir)
	}
	return abs, nil
}
