// Package search discovers generated tool bindings on disk without
// loading them: queries return lightweight references so callers only
// pay for the bindings they actually use.
package search

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// DetailLevel controls how much work a search does per candidate.
type DetailLevel string

const (
	// DetailName matches only server and tool names.
	DetailName DetailLevel = "name"

	// DetailBasic also extracts and matches file-header summaries.
	DetailBasic DetailLevel = "basic"

	// DetailFull behaves like basic; the distinction is reserved for
	// callers that load the referenced binding afterwards.
	DetailFull DetailLevel = "full"
)

// summaryReadLimit bounds how much of a binding file is read when
// extracting its header summary.
const summaryReadLimit = 2048

// Ref points at one generated tool binding. It carries enough to
// decide whether the binding is worth loading, and where to find it.
type Ref struct {
	Server  string
	Tool    string
	Path    string
	Summary string
}

// String renders the reference as server.tool.
func (r Ref) String() string { return r.Server + "." + r.Tool }

// Search returns references to bindings under serversDir matching
// query. The query is matched case-insensitively as a substring of the
// server name, tool name, and (at basic or full detail) the binding's
// header summary. A query containing glob metacharacters is instead
// compiled as a pattern against "server/tool".
func Search(query, serversDir string, detail DetailLevel) ([]Ref, error) {
	entries, err := os.ReadDir(serversDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read servers dir: %w", err)
	}

	var pattern glob.Glob
	if strings.ContainsAny(query, "*?[{") {
		pattern, err = glob.Compile(strings.ToLower(query), '/')
		if err != nil {
			return nil, fmt.Errorf("compile query %q: %w", query, err)
		}
	}
	needle := strings.ToLower(query)

	var refs []Ref
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		server := entry.Name()
		serverDir := filepath.Join(serversDir, server)

		tools, err := os.ReadDir(serverDir)
		if err != nil {
			return nil, fmt.Errorf("read server dir %s: %w", server, err)
		}
		for _, toolEntry := range tools {
			if toolEntry.IsDir() || !isBindingFile(toolEntry.Name()) {
				continue
			}
			tool := strings.TrimSuffix(toolEntry.Name(), filepath.Ext(toolEntry.Name()))
			path := filepath.Join(serverDir, toolEntry.Name())

			if pattern != nil {
				if pattern.Match(strings.ToLower(server + "/" + tool)) {
					refs = append(refs, Ref{Server: server, Tool: tool, Path: path})
				}
				continue
			}

			if strings.Contains(strings.ToLower(server), needle) ||
				strings.Contains(strings.ToLower(tool), needle) {
				refs = append(refs, Ref{Server: server, Tool: tool, Path: path})
				continue
			}

			if detail == DetailBasic || detail == DetailFull {
				summary := headerSummary(path)
				if summary != "" && strings.Contains(strings.ToLower(summary), needle) {
					refs = append(refs, Ref{Server: server, Tool: tool, Path: path, Summary: summary})
				}
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs, nil
}

// ListServers returns the server names under serversDir.
func ListServers(serversDir string) ([]string, error) {
	entries, err := os.ReadDir(serversDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read servers dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListTools returns the tool names of one server.
func ListTools(server, serversDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(serversDir, server))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read server dir %s: %w", server, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !isBindingFile(entry.Name()) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
	}
	sort.Strings(names)
	return names, nil
}

// isBindingFile filters directory entries down to generated bindings.
// Hidden files, underscored files and doc files are infrastructure, not
// tools.
func isBindingFile(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return stem != "" && stem != "doc"
}

// headerSummary extracts a one-line summary from the leading comment
// block of a binding file. Only the first summaryReadLimit bytes are
// read; the binding is never parsed or loaded.
func headerSummary(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(io.LimitReader(f, summaryReadLimit))
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var text string
		switch {
		case strings.HasPrefix(line, "//"):
			text = strings.TrimSpace(strings.TrimPrefix(line, "//"))
		case strings.HasPrefix(line, "#"):
			text = strings.TrimSpace(strings.TrimPrefix(line, "#"))
		default:
			// First non-comment line ends the header block.
			return strings.Join(lines, " ")
		}
		if text == "" {
			if len(lines) > 0 {
				// Blank comment line ends the summary paragraph.
				return strings.Join(lines, " ")
			}
			continue
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, " ")
}
