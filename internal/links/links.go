// Package links classifies distribution URLs and groups them into the
// update sets that the metadata mergers consume.
package links

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Category describes where a distribution link points.
type Category string

const (
	// CategoryOnPrem is an OPeNDAP endpoint served by the on-premises archive.
	CategoryOnPrem Category = "on-prem"
	// CategoryCloud is an OPeNDAP endpoint served from the Earthdata cloud.
	CategoryCloud Category = "cloud"
	// CategoryS3 is a direct S3 staging location.
	CategoryS3 Category = "s3"
)

// Link is a single classified distribution URL.
type Link struct {
	URL      string
	Category Category
}

// UpdateSet groups the URLs of one link update request by category.
// A set holds at most one on-prem and at most one cloud OPeNDAP URL;
// S3 URLs are kept in the order they were provided.
type UpdateSet struct {
	OnPrem *Link
	Cloud  *Link
	S3     []Link
}

// HasOpendap reports whether the set contains an OPeNDAP URL of either category.
func (s *UpdateSet) HasOpendap() bool {
	return s.OnPrem != nil || s.Cloud != nil
}

// All returns the links of the set in category order (on-prem, cloud, S3).
func (s *UpdateSet) All() []Link {
	var ls []Link
	if s.OnPrem != nil {
		ls = append(ls, *s.OnPrem)
	}
	if s.Cloud != nil {
		ls = append(ls, *s.Cloud)
	}
	ls = append(ls, s.S3...)
	return ls
}

// ValidationError reports a link update request that cannot be applied.
// Callers can distinguish it from internal errors with errors.As.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// DocumentFormatError reports a metadata record that cannot be parsed or
// lacks the structure a merge needs. Unlike ValidationError it signals a
// broken record, not broken caller input.
type DocumentFormatError struct {
	Format string
	Err    error
}

func (e *DocumentFormatError) Error() string {
	return fmt.Sprintf("malformed %s record: %v", e.Format, e.Err)
}

func (e *DocumentFormatError) Unwrap() error {
	return e.Err
}

// HostMatcher reports whether a hostname belongs to the cloud OPeNDAP deployment.
type HostMatcher interface {
	MatchHost(host string) bool
}

// HostMatcherFunc adapts a function to the HostMatcher interface.
type HostMatcherFunc func(host string) bool

func (f HostMatcherFunc) MatchHost(host string) bool {
	return f(host)
}

// cloudHostRegexp matches the Earthdata cloud OPeNDAP hostnames
// (ops as well as the UAT and SIT environments).
var cloudHostRegexp = regexp.MustCompile(`^opendap\.((uat|sit)\.)?earthdata\.nasa\.gov$`)

// DefaultCloudHosts matches the standard Earthdata cloud OPeNDAP hostnames.
var DefaultCloudHosts HostMatcher = HostMatcherFunc(func(host string) bool {
	return cloudHostRegexp.MatchString(strings.ToLower(host))
})

// Classify determines the category of a single distribution URL.
// cloudHosts decides whether an http(s) URL counts as a cloud OPeNDAP link;
// if nil, DefaultCloudHosts is used.
func Classify(rawURL string, cloudHosts HostMatcher) (Category, error) {
	if cloudHosts == nil {
		cloudHosts = DefaultCloudHosts
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", validationErrorf("invalid URL %q: %v", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "s3":
		return CategoryS3, nil
	case "http", "https":
		if cloudHosts.MatchHost(u.Hostname()) {
			return CategoryCloud, nil
		}
		return CategoryOnPrem, nil
	case "":
		return "", validationErrorf("URL %q has no scheme", rawURL)
	default:
		return "", validationErrorf("unsupported URL scheme %q in %q", u.Scheme, rawURL)
	}
}

// Parse splits s on commas, trims each element, and classifies the URLs
// into an UpdateSet. URLs are carried verbatim; only surrounding whitespace
// is removed. Duplicate on-prem or cloud URLs, empty elements, and URLs that
// fail classification all yield a ValidationError.
func Parse(s string, cloudHosts HostMatcher) (*UpdateSet, error) {
	if strings.TrimSpace(s) == "" {
		return nil, validationErrorf("no link URLs provided")
	}
	var set UpdateSet
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			return nil, validationErrorf("empty URL in link list %q", s)
		}
		cat, err := Classify(f, cloudHosts)
		if err != nil {
			return nil, err
		}
		switch cat {
		case CategoryOnPrem:
			if set.OnPrem != nil {
				return nil, validationErrorf("only one on-prem OPeNDAP URL may be provided, got %q and %q", set.OnPrem.URL, f)
			}
			set.OnPrem = &Link{URL: f, Category: CategoryOnPrem}
		case CategoryCloud:
			if set.Cloud != nil {
				return nil, validationErrorf("only one cloud OPeNDAP URL may be provided, got %q and %q", set.Cloud.URL, f)
			}
			set.Cloud = &Link{URL: f, Category: CategoryCloud}
		case CategoryS3:
			set.S3 = append(set.S3, Link{URL: f, Category: CategoryS3})
		}
	}
	return &set, nil
}
