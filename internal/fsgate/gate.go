// Package fsgate implements the FS Write Policy Gate (C7): the ordered
// allow/deny/protected rule checks every mutating store-fs operation must
// pass before the store client is invoked.
package fsgate

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/joestump/memctl/internal/bridgeerr"
	"github.com/joestump/memctl/internal/config"
)

const uriScheme = "viking://"

// Op identifies which mutating fs operation is being vetted.
type Op string

const (
	OpMkdir Op = "mkdir"
	OpRm    Op = "rm"
	OpMv    Op = "mv"
)

// Gate enforces config.FSWrite against one operation at a time.
type Gate struct {
	cfg config.FSWrite
}

// New builds a Gate bound to a FSWrite rule set.
func New(cfg config.FSWrite) *Gate {
	return &Gate{cfg: cfg}
}

func denied(rule string) error {
	return bridgeerr.New(bridgeerr.KindPolicy, "fs write denied: "+rule)
}

// normalize strips trailing slashes from non-root uris and requires the
// viking:// scheme.
func normalize(uri string) (string, error) {
	if !strings.HasPrefix(uri, uriScheme) {
		return "", denied("uri must start with " + uriScheme + ": " + uri)
	}
	trimmed := strings.TrimRight(uri, "/")
	if trimmed == strings.TrimRight(uriScheme, "/") {
		// root uri, e.g. "viking://" itself: do not strip further.
		return uriScheme, nil
	}
	if trimmed == "" {
		trimmed = uriScheme
	}
	return trimmed, nil
}

// prefixMatches reports whether prefix is a path-boundary-respecting
// prefix of uri: either an exact match, uri starts with prefix+"/", or
// prefix is the bare scheme (matches anything).
func prefixMatches(prefix, uri string) bool {
	if prefix == uriScheme {
		return true
	}
	prefix = strings.TrimRight(prefix, "/")
	if prefix == uri {
		return true
	}
	return strings.HasPrefix(uri, prefix+"/")
}

// isGlobPattern reports whether a deny-prefix entry carries glob
// metacharacters (e.g. a trailing "/**" wildcard) rather than being a
// plain path-boundary prefix.
func isGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// denyMatches evaluates one denyUriPrefixes entry against a normalized
// uri: glob-shaped entries (containing *, ?, or [) are matched with
// gobwas/glob; plain entries use the boundary-respecting prefixMatches so
// exact-prefix semantics are never accidentally loosened by glob syntax.
func denyMatches(pattern, uri string) bool {
	if !isGlobPattern(pattern) {
		return prefixMatches(pattern, uri)
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return prefixMatches(pattern, uri)
	}
	return g.Match(uri)
}

// checkURI runs checks 3-7 (normalisation, non-empty allow list, protected,
// deny, allow) against a single uri. The callers have already run checks 1-2
// (fsWrite enabled, recursive-rm precondition).
func (g *Gate) checkURI(uri string) (string, error) {
	normalized, err := normalize(uri)
	if err != nil {
		return "", err
	}

	if len(g.cfg.AllowURIPrefixes) == 0 {
		return "", denied("allowUriPrefixes is empty")
	}

	for _, p := range g.cfg.ProtectedURIs {
		if p == normalized {
			return "", denied("uri is protected: " + normalized)
		}
	}

	for _, d := range g.cfg.DenyURIPrefixes {
		if denyMatches(d, normalized) {
			return "", denied("uri matches deny prefix " + d + ": " + normalized)
		}
	}

	allowed := false
	for _, a := range g.cfg.AllowURIPrefixes {
		if prefixMatches(a, normalized) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", denied("uri does not match any allow prefix: " + normalized)
	}

	return normalized, nil
}

// CheckMkdir vets a mkdir target and returns its normalized uri.
func (g *Gate) CheckMkdir(uri string) (string, error) {
	if !g.cfg.Enabled {
		return "", denied("fsWrite is disabled")
	}
	return g.checkURI(uri)
}

// CheckRm vets an rm target (recursive or not) and returns its normalized
// uri.
func (g *Gate) CheckRm(uri string, recursive bool) (string, error) {
	if !g.cfg.Enabled {
		return "", denied("fsWrite is disabled")
	}
	if recursive && !g.cfg.AllowRecursiveRm {
		return "", denied("recursive rm is disabled")
	}
	return g.checkURI(uri)
}

// CheckMv vets an mv's source and destination, requiring them to be
// distinct after normalization, and returns both normalized uris.
func (g *Gate) CheckMv(from, to string) (normFrom, normTo string, err error) {
	if !g.cfg.Enabled {
		return "", "", denied("fsWrite is disabled")
	}
	normFrom, err = g.checkURI(from)
	if err != nil {
		return "", "", err
	}
	normTo, err = g.checkURI(to)
	if err != nil {
		return "", "", err
	}
	if normFrom == normTo {
		return "", "", denied("source and destination normalise to the same uri: " + normFrom)
	}
	return normFrom, normTo, nil
}
