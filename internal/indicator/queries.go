package indicator

import (
	"bufio"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed queries.sql
var queriesSQL string

// queries holds the named statements from queries.sql.
var queries = mustParseQueries(queriesSQL)

// parseNamedQueries extracts statements declared with "-- name: <name>".
// Comment-only lines are dropped and a trailing semicolon is removed.
func parseNamedQueries(content string) (map[string]string, error) {
	out := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(content))

	var current strings.Builder
	var name string

	flush := func() error {
		if name == "" {
			return nil
		}
		q := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if q == "" {
			return fmt.Errorf("query %q is empty", name)
		}
		if _, dup := out[name]; dup {
			return fmt.Errorf("query %q declared twice", name)
		}
		out[name] = q
		return nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "-- name:") {
			if err := flush(); err != nil {
				return nil, err
			}
			name = strings.TrimSpace(strings.TrimPrefix(line, "-- name:"))
			if !validQueryName(name) {
				return nil, fmt.Errorf("invalid query name %q", name)
			}
			current.Reset()
			continue
		}

		if name == "" || line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func validQueryName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}

func mustParseQueries(content string) map[string]string {
	q, err := parseNamedQueries(content)
	if err != nil {
		panic("indicator queries: " + err.Error())
	}
	return q
}
