// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// localBinDir is the per-project tool directory prefixed onto PATH so that
// locally installed launchers (npx shims and the like) resolve for stdio
// servers.
const localBinDir = "node_modules/.bin"

// resolveCwd resolves the configured working directory against the process
// working directory. An empty cwd resolves to the process working
// directory.
func resolveCwd(cwd string) string {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}
	if filepath.IsAbs(cwd) {
		return filepath.Clean(cwd)
	}
	wd, err := os.Getwd()
	if err != nil {
		return filepath.Clean(cwd)
	}
	return filepath.Join(wd, cwd)
}

// buildChildEnv synthesizes the environment for a stdio child process:
// the parent process environment, overlaid with the configured entries,
// with PATH prefixed by the local tool directory under cwd.
func buildChildEnv(environ []string, configEnv map[string]string, cwd string) []string {
	merged := make(map[string]string, len(environ)+len(configEnv))
	var order []string
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	configKeys := make([]string, 0, len(configEnv))
	for k := range configEnv {
		configKeys = append(configKeys, k)
	}
	sort.Strings(configKeys)
	for _, k := range configKeys {
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = configEnv[k]
	}

	binDir := filepath.Join(cwd, filepath.FromSlash(localBinDir))
	if path, ok := merged["PATH"]; ok && path != "" {
		merged["PATH"] = binDir + string(os.PathListSeparator) + path
	} else {
		if _, seen := merged["PATH"]; !seen {
			order = append(order, "PATH")
		}
		merged["PATH"] = binDir
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+merged[k])
	}
	return out
}
