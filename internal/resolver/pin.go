package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadProjectPin locates the Node.js version a project was pinned to at a
// prior install. Sources, in order:
//
//  1. .nvmrc or .node-version — plain text, optional "v" prefix.
//  2. package.json "volta.node" — an exact pinned version.
//  3. package.json "engines.node" — usually a range; returned as-is for the
//     resolver to match against the release index.
//
// package.json is parsed forward-compatibly: only the fields above are
// looked at and everything else is ignored. A project with none of these
// sources, or an unreadable one, is a ResolutionError.
func ReadProjectPin(projectDir string) (string, error) {
	for _, name := range []string{".nvmrc", ".node-version"} {
		pin, err := readTextPin(filepath.Join(projectDir, name))
		if err != nil {
			return "", &ResolutionError{Msg: "reading " + name, Err: err}
		}

		if pin != "" {
			return pin, nil
		}
	}

	pkgPath := filepath.Join(projectDir, "package.json")

	data, err := os.ReadFile(pkgPath)
	if os.IsNotExist(err) {
		return "", &ResolutionError{Msg: fmt.Sprintf("no version given and %s has no .nvmrc, .node-version or package.json", projectDir)}
	}

	if err != nil {
		return "", &ResolutionError{Msg: "reading package.json", Err: err}
	}

	var pkg struct {
		Volta struct {
			Node string `json:"node"`
		} `json:"volta"`
		Engines struct {
			Node string `json:"node"`
		} `json:"engines"`
	}

	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", &ResolutionError{Msg: "parsing package.json", Err: err}
	}

	if pkg.Volta.Node != "" {
		return pkg.Volta.Node, nil
	}

	if pkg.Engines.Node != "" {
		return pkg.Engines.Node, nil
	}

	return "", &ResolutionError{Msg: "no version given and the project pins no node version (.nvmrc, .node-version, volta.node or engines.node)"}
}

// readTextPin reads a one-line version file. A missing file is not an
// error; an empty or multi-word file is.
func readTextPin(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	pin := strings.TrimSpace(string(data))
	if pin == "" || len(strings.Fields(pin)) != 1 {
		return "", fmt.Errorf("expected a single version, got %q", pin)
	}

	return trimV(pin), nil
}

func trimV(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "v")
}
