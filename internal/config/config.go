// Package config loads the serialized application configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/store"
)

// ValueRegexp is a wrapper around regexp.Regexp to allow for custom YAML unmarshaling.
type ValueRegexp regexp.Regexp

// UnmarshalYAML implements the yaml.Unmarshaler interface for ValueRegexp.
// Patterns are compiled with implied full-match anchors, so "opendap.*"
// matches the whole host, not a substring.
func (vr *ValueRegexp) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	re, err := regexp.Compile("^(?:" + s + ")$")
	if err != nil {
		return fmt.Errorf("failed to compile pattern %q: %w", s, err)
	}
	*vr = ValueRegexp(*re)
	return nil
}

// ValueRule constrains a string value to an explicit list of values or a
// set of regular expressions.
type ValueRule struct {
	Values  []string       `yaml:"values"`
	Matches []*ValueRegexp `yaml:"matches"`
}

// Accept checks if a given value is valid according to the rule.
func (r *ValueRule) Accept(val string) bool {
	if r == nil {
		return true
	}
	if r.Values != nil {
		return slices.Contains(r.Values, val)
	}
	if r.Matches != nil {
		for _, re := range r.Matches {
			if (*regexp.Regexp)(re).MatchString(val) {
				return true
			}
		}
		return false
	}
	// An empty rule (e.g. "allowHosts:") accepts all values.
	return true
}

// Describe returns a human-readable description of the allowed values.
func (r *ValueRule) Describe() string {
	if r == nil {
		return "any value"
	}
	if len(r.Values) > 0 {
		return fmt.Sprintf("one of [%s]", strings.Join(r.Values, ", "))
	}
	if len(r.Matches) > 0 {
		patterns := make([]string, len(r.Matches))
		for i, re := range r.Matches {
			patterns[i] = (*regexp.Regexp)(re).String()
		}
		if len(patterns) == 1 {
			return fmt.Sprintf("matching pattern %s", patterns[0])
		}
		return fmt.Sprintf("matching any of patterns [%s]", strings.Join(patterns, ", "))
	}
	return "any value"
}

// LinkRules configures how link update URLs are classified and validated.
type LinkRules struct {
	// CloudHosts are the hostnames treated as cloud OPeNDAP endpoints.
	// Empty means the built-in Earthdata hosts.
	CloudHosts []*ValueRegexp `yaml:"cloudHosts"`
	// AllowHosts optionally restricts the hosts that update URLs may use.
	AllowHosts *ValueRule `yaml:"allowHosts"`
}

// Matcher returns the host matcher derived from the configured cloud hosts.
func (r *LinkRules) Matcher() links.HostMatcher {
	if r == nil || len(r.CloudHosts) == 0 {
		return links.DefaultCloudHosts
	}
	patterns := make([]*regexp.Regexp, len(r.CloudHosts))
	for i, re := range r.CloudHosts {
		patterns[i] = (*regexp.Regexp)(re)
	}
	return links.HostMatcherFunc(func(host string) bool {
		host = strings.ToLower(host)
		for _, re := range patterns {
			if re.MatchString(host) {
				return true
			}
		}
		return false
	})
}

// AcceptHosts checks every URL of set against the allowHosts rule.
func (r *LinkRules) AcceptHosts(set *links.UpdateSet) error {
	if r == nil || r.AllowHosts == nil {
		return nil
	}
	for _, l := range set.All() {
		u, err := url.Parse(l.URL)
		if err != nil {
			return &links.ValidationError{Reason: fmt.Sprintf("invalid URL %q: %v", l.URL, err)}
		}
		if !r.AllowHosts.Accept(u.Hostname()) {
			return &links.ValidationError{
				Reason: fmt.Sprintf("host %q is not allowed (allowed: %s)", u.Hostname(), r.AllowHosts.Describe()),
			}
		}
	}
	return nil
}

// ServerConfig has configuration that only affects the HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. "localhost:8080".
	Addr string `yaml:"addr"`
	// BaseDir serves templates and static files from disk instead of the
	// embedded copies. Intended for development.
	BaseDir string `yaml:"baseDir"`
}

// TasksConfig has configuration for the bulk update task store.
type TasksConfig struct {
	// Dir is the directory where task state is persisted.
	// Empty means task state is kept in memory only.
	Dir string `yaml:"dir"`
}

// Bundle is the umbrella struct for the serialized application configuration YAML.
// It bundles the package-specific configurations.
type Bundle struct {
	Server ServerConfig `yaml:"server"`
	Links  LinkRules    `yaml:"links"`
	Tasks  TasksConfig  `yaml:"tasks"`
}

// Load reads the configuration at configPath from the store. An empty path
// or a missing file yields the built-in defaults.
func Load(st store.Store, configPath string) (*Bundle, error) {
	if configPath == "" {
		return &Bundle{}, nil
	}
	bs, err := st.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Bundle{}, nil
		}
		return nil, fmt.Errorf("could not read config %q: %v", configPath, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(bs))
	dec.KnownFields(true)
	var bundle Bundle
	if err := dec.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("invalid configuration YAML in %q: %v", configPath, err)
	}
	return &bundle, nil
}
