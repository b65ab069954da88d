// Package hook holds the compiled, immutable form of configured webhooks.
package hook

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Tokens substituted into a hook body at render time.
const (
	SubjectToken = "%%SUBJECT%%"
	ContentToken = "%%CONTENT%%"
)

// Substitution is a compiled replace entry.
type Substitution struct {
	Pattern *regexp.Regexp
	Value   string
}

// Hook is a validated hook with its patterns compiled. It is built once at
// startup and shared read-only by every delivery.
type Hook struct {
	// Name identifies the hook in logs and metrics.
	Name string

	Mailto  string
	Accept  []*regexp.Regexp
	Deny    []*regexp.Regexp
	Replace []Substitution
	Target  string
	Method  string
	Body    string
	Headers map[string]string
	AWS     *AWSSigning

	// RequiresSubject and RequiresContent are set when Body contains the
	// corresponding token.
	RequiresSubject bool
	RequiresContent bool
}

// Set is the ordered collection of hooks loaded at startup.
type Set []*Hook

// Compile validates d and compiles its patterns. index is the position of the
// hook in the configuration and is used for the default name.
func Compile(index int, d Definition) (*Hook, error) {
	if d.Mailto == "" {
		return nil, fmt.Errorf("mailto is required")
	}
	if d.Target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if u, err := url.Parse(d.Target); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("target %q is not an absolute URL", d.Target)
	}
	if d.Body.IsZero() {
		return nil, fmt.Errorf("body is required")
	}

	method, err := normalizeMethod(d.Method)
	if err != nil {
		return nil, err
	}

	if d.AWS != nil && (d.AWS.Region == "" || d.AWS.Service == "") {
		return nil, fmt.Errorf("aws: region and service are required")
	}
	if d.AWS != nil && (d.AWS.AccessKeyID == "") != (d.AWS.SecretAccessKey == "") {
		return nil, fmt.Errorf("aws: accessKeyId and secretAccessKey must be set together")
	}

	accept, err := compileAll("accept", d.Accept)
	if err != nil {
		return nil, err
	}
	deny, err := compileAll("deny", d.Deny)
	if err != nil {
		return nil, err
	}

	replace := make([]Substitution, 0, len(d.Replace))
	for _, r := range d.Replace {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("replace: invalid pattern %q: %w", r.Pattern, err)
		}
		replace = append(replace, Substitution{Pattern: re, Value: r.Value})
	}

	name := d.Comment
	if name == "" {
		name = fmt.Sprintf("%s#%d", d.Mailto, index)
	}

	body := d.Body.String()
	return &Hook{
		Name:            name,
		Mailto:          d.Mailto,
		Accept:          accept,
		Deny:            deny,
		Replace:         replace,
		Target:          d.Target,
		Method:          method,
		Body:            body,
		Headers:         d.Headers,
		AWS:             d.AWS,
		RequiresSubject: strings.Contains(body, SubjectToken),
		RequiresContent: strings.Contains(body, ContentToken),
	}, nil
}

// CompileSet compiles every definition, reporting the index of the first
// invalid one.
func CompileSet(defs []Definition) (Set, error) {
	set := make(Set, 0, len(defs))
	for i, d := range defs {
		h, err := Compile(i, d)
		if err != nil {
			return nil, fmt.Errorf("hooks[%d]: %w", i, err)
		}
		set = append(set, h)
	}
	return set, nil
}

func compileAll(field string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: invalid pattern %q: %w", field, i, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func normalizeMethod(m string) (string, error) {
	switch strings.ToUpper(m) {
	case "":
		return http.MethodPost, nil
	case http.MethodGet, http.MethodPut, http.MethodPost:
		return strings.ToUpper(m), nil
	default:
		return "", fmt.Errorf("method %q is not one of GET, PUT, POST", m)
	}
}
