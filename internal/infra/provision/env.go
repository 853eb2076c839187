package provision

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ParseEnvFile reads a dotenv file: KEY=VALUE lines, # comments, blank
// lines, optional single or double quotes around the value, optional
// "export " prefix. A missing file is an empty map.
func ParseEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: not a KEY=VALUE line", path, lineno)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%s:%d: empty key", path, lineno)
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		vars[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vars, nil
}

// MergeEnv layers project variables over system variables: a project key
// always wins. The result is a fresh map, inputs are untouched.
func MergeEnv(system, project map[string]string) map[string]string {
	out := make(map[string]string, len(system)+len(project))
	for k, v := range system {
		out[k] = v
	}
	for k, v := range project {
		out[k] = v
	}
	return out
}

// EnvSlice renders a variable map as the KEY=VALUE slice os/exec expects,
// in deterministic key order.
func EnvSlice(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}

// LoadWorkerEnv builds a worker's environment: the parent process env,
// overlaid with the system .env and then the project .env.
func LoadWorkerEnv(systemEnvPath, projectEnvPath string) ([]string, error) {
	system, err := ParseEnvFile(systemEnvPath)
	if err != nil {
		return nil, fmt.Errorf("system env: %w", err)
	}
	project, err := ParseEnvFile(projectEnvPath)
	if err != nil {
		return nil, fmt.Errorf("project env: %w", err)
	}
	merged := MergeEnv(system, project)
	if len(merged) == 0 {
		return nil, nil // inherit as-is
	}
	return append(os.Environ(), EnvSlice(merged)...), nil
}
