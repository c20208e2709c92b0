// Package hosts expands host tokens, glob patterns and host-list files into
// the ordered, deduplicated list of targets for one run.
package hosts

import (
	"fmt"
	"path"
	"strings"
)

// ResolutionError reports that no target host could be resolved, or that a
// pattern was malformed. Nothing has been dispatched when it is returned.
type ResolutionError struct {
	Specs []string
	Err   error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve hosts: %v", e.Err)
	}
	if len(e.Specs) == 0 {
		return "resolve hosts: no hosts specified"
	}
	return fmt.Sprintf("resolve hosts: no hosts match %s", strings.Join(e.Specs, " "))
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsPattern reports whether token contains shell glob metacharacters.
func IsPattern(token string) bool {
	return strings.ContainsAny(token, "*?[")
}

// Resolver expands host specs against a registered list of candidate hosts.
// The zero value has no candidates; literal tokens still resolve.
type Resolver struct {
	candidates []string
	seen       map[string]bool
}

// NewResolver creates a Resolver with the given candidates.
func NewResolver(candidates ...string) *Resolver {
	r := &Resolver{}
	r.AddCandidates(candidates...)
	return r
}

// AddCandidates registers hosts that glob patterns may match. Order of
// registration is kept and duplicates are dropped.
func (r *Resolver) AddCandidates(hosts ...string) {
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	for _, h := range hosts {
		if h == "" || IsPattern(h) || r.seen[h] {
			continue
		}
		r.seen[h] = true
		r.candidates = append(r.candidates, h)
	}
}

// Candidates returns the registered candidates in registration order.
func (r *Resolver) Candidates() []string {
	out := make([]string, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Resolve expands specs followed by hostFileLines into a host list. Literal
// tokens pass through unchanged; patterns contribute every matching
// candidate, or nothing. The result keeps first-seen order without
// duplicates, compared byte for byte. An empty result is a
// *ResolutionError.
func (r *Resolver) Resolve(specs []string, hostFileLines []string) ([]string, error) {
	tokens := make([]string, 0, len(specs)+len(hostFileLines))
	tokens = append(tokens, specs...)
	tokens = append(tokens, hostFileLines...)

	seen := make(map[string]bool, len(tokens))
	var resolved []string
	add := func(h string) {
		if !seen[h] {
			seen[h] = true
			resolved = append(resolved, h)
		}
	}

	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !IsPattern(tok) {
			add(tok)
			continue
		}
		matches, err := r.match(tok)
		if err != nil {
			return nil, &ResolutionError{Specs: tokens, Err: err}
		}
		for _, m := range matches {
			add(m)
		}
	}

	if len(resolved) == 0 {
		return nil, &ResolutionError{Specs: tokens}
	}
	return resolved, nil
}

// match returns the candidates matching a glob token. A "user@" prefix is
// kept on every match; the pattern applies to the host part only.
func (r *Resolver) match(token string) ([]string, error) {
	prefix, pattern := "", token
	if i := strings.LastIndex(token, "@"); i > 0 {
		prefix, pattern = token[:i+1], token[i+1:]
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", token, err)
	}

	var matched []string
	for _, c := range r.candidates {
		if ok, _ := path.Match(pattern, c); ok {
			matched = append(matched, prefix+c)
		}
	}
	return matched, nil
}
