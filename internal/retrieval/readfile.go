package retrieval

import (
	"context"
	"strings"

	"github.com/joestump/memctl/internal/bridgeerr"
)

const resourceScheme = "viking://resource/"

// normalizeReadURI maps a host-supplied relative or absolute path to a
// viking://-prefixed uri. A uri already in viking:// form round-trips
// unchanged; anything else (bare absolute or relative paths) is rooted
// under viking://resource/.
func normalizeReadURI(relPath string) string {
	if strings.HasPrefix(relPath, "viking://") {
		return relPath
	}
	return resourceScheme + strings.TrimPrefix(relPath, "/")
}

// ReadFile implements the read-file path for direct host requests: it
// normalises relPath, reads the full content layer, and optionally slices
// 1-indexed lines [from, from+lines).
func (p *Pipeline) ReadFile(ctx context.Context, relPath string, from, lines *int) (text string, path string, err error) {
	uri := normalizeReadURI(relPath)
	content, err := p.client.Read(ctx, uri)
	if err != nil {
		return "", uri, err
	}
	text = content.Text

	if from == nil || lines == nil {
		return text, uri, nil
	}
	if *from < 1 || *lines < 1 {
		return "", uri, bridgeerr.New(bridgeerr.KindValidation, "readFile: from and lines must be >= 1")
	}

	all := strings.Split(text, "\n")
	start := *from - 1
	if start >= len(all) {
		return "", uri, nil
	}
	end := start + *lines
	if end > len(all) {
		end = len(all)
	}
	return strings.Join(all[start:end], "\n"), uri, nil
}
