// Package pathmap normalizes interpreter chunk names into comparable file
// paths. Collaborators use it to answer ResolvePath and to key breakpoints.
package pathmap

import (
	"fmt"
	"path"
	"strings"
)

// Normalizer rewrites raw chunk names.
//
// Relative paths are joined to Cwd, names without an extension get Ext, and
// paths are lower-cased unless CaseSensitive is set. In Basename mode only
// the file name is kept, so two files with the same name collide; the
// collaborator's Identity check disambiguates them.
type Normalizer struct {
	Cwd           string
	Ext           string
	CaseSensitive bool
	Basename      bool
}

// Normalize returns the breakpoint key for raw
func (n Normalizer) Normalize(raw string) (string, error) {
	full, err := n.Identity(raw)
	if err != nil {
		return "", err
	}
	if n.Basename {
		return path.Base(full), nil
	}
	return full, nil
}

// Identity returns the full normalized path of raw, regardless of Basename
func (n Normalizer) Identity(raw string) (string, error) {
	p, err := chunkPath(raw)
	if err != nil {
		return "", err
	}
	return n.Clean(p), nil
}

// Clean normalizes a file path as supplied by the front end
func (n Normalizer) Clean(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if !isAbs(p) && n.Cwd != "" {
		p = strings.ReplaceAll(n.Cwd, `\`, "/") + "/" + p
	}
	p = path.Clean(p)

	if n.Ext != "" && path.Ext(p) == "" {
		ext := n.Ext
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p += ext
	}
	if !n.CaseSensitive {
		p = strings.ToLower(p)
	}
	return p
}

// Key normalizes a front-end path into the same key space as Normalize
func (n Normalizer) Key(p string) string {
	p = n.Clean(p)
	if n.Basename {
		return path.Base(p)
	}
	return p
}

// chunkPath extracts the file path from a chunk name
func chunkPath(raw string) (string, error) {
	switch {
	case raw == "":
		return "", fmt.Errorf("empty chunk name")
	case strings.HasPrefix(raw, "@"):
		p := raw[1:]
		if p == "" {
			return "", fmt.Errorf("empty chunk name")
		}
		return p, nil
	case strings.HasPrefix(raw, "="):
		return "", fmt.Errorf("host buffer %q has no file", raw)
	case strings.ContainsAny(raw, "\n;="):
		return "", fmt.Errorf("chunk loaded from a string has no file")
	}
	return raw, nil
}

// isAbs accepts slash-rooted and drive-letter paths
func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && p[2] == '/'
}
