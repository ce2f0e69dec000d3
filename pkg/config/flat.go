package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/keelframework/keel/pkg/system"
)

// loadFlat parses a flat key=value source. Each line maps a dotted key to
// a scalar; the key is derived into its nested location under its
// top-level component key, so
//
//	app/db.pool.size=10
//
// becomes {"app/db": {"pool": {"size": 10}}}. Blank lines and lines
// starting with # are skipped.
func loadFlat(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, system.NewConfigLoadError(fmt.Sprintf("reading %s", path), err)
	}
	defer f.Close()

	out := make(map[string]any)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, raw, found := strings.Cut(line, "=")
		if !found {
			return nil, system.NewConfigLoadError(
				fmt.Sprintf("parsing %s:%d: missing '=' in %q", path, lineNo, line), nil)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, system.NewConfigLoadError(
				fmt.Sprintf("parsing %s:%d: empty key", path, lineNo), nil)
		}

		deriveKey(out, key, inferScalar(strings.TrimSpace(raw)))
	}
	if err := scanner.Err(); err != nil {
		return nil, system.NewConfigLoadError(fmt.Sprintf("reading %s", path), err)
	}
	return out, nil
}

// deriveKey places value at the nested location the dotted key names,
// creating intermediate maps as needed. A non-map intermediate value is
// overwritten; later lines win over earlier ones.
func deriveKey(out map[string]any, key string, value any) {
	top, path := qualifier(key)
	if len(path) == 0 {
		out[top] = value
		return
	}

	node, ok := out[top].(map[string]any)
	if !ok {
		node = make(map[string]any)
		out[top] = node
	}
	for _, part := range path[:len(path)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[part] = next
		}
		node = next
	}
	node[path[len(path)-1]] = value
}

// inferScalar types a flat value: boolean literals and base-10 integers
// are converted, everything else stays a string.
func inferScalar(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}
