package fsgate

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PreviewShadowTree is an advisory, local-only preview of what an rm
// --recursive would touch, before any call reaches the store. It walks a
// local shadow directory mirroring the store's uri tree and matches entries against a doublestar pattern derived from the uri. It
// never substitutes for CheckRm and never mutates anything.
func PreviewShadowTree(shadowRoot, uri string) ([]string, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(uri, uriScheme), "/")
	pattern := filepath.ToSlash(filepath.Join(rel, "**"))

	var matches []string
	err := filepath.WalkDir(shadowRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, rerr := filepath.Rel(shadowRoot, path)
		if rerr != nil {
			return rerr
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == rel || matchesGlob(pattern, relPath) {
			matches = append(matches, relPath)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func matchesGlob(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}
