// Package ummg rewrites the RelatedUrls of UMM-G granule records.
//
// Unlike the ECHO10 merger this one never re-renders the whole record from
// a struct model: changes are applied as an RFC 7386 merge patch against the
// original bytes, so keys the model does not know about survive with their
// values and relative order intact. Direct S3 entries follow a full-replace
// rule; OPeNDAP entries follow the same slot rules as ECHO10.
package ummg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"golang.org/x/mod/semver"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
)

const (
	// S3Type is the access type of direct-S3 entries.
	S3Type = "GET DATA VIA DIRECT ACCESS"
	// S3Description is the canonical description written on S3 entries.
	S3Description = "This link provides direct download access via S3 to the granule"

	// ServiceAPIType and OpendapSubtype identify OPeNDAP entries.
	ServiceAPIType = "USE SERVICE API"
	OpendapSubtype = "OPENDAP DATA"

	// legacyOpendapType is the pre-1.6 type value of OPeNDAP entries.
	legacyOpendapType = "GET DATA : OPENDAP DATA"

	// specVersion is the earliest metadata specification that defines the
	// direct access type. Records below it are raised when links change.
	specVersion = "1.6.6"
	specURL     = "https://cdn.earthdata.nasa.gov/umm/granule/v" + specVersion
	specName    = "UMM-G"
)

// RelatedURL is the modeled view of one RelatedUrls entry. Entries can
// carry further keys (GetData, Format, MimeType); those are preserved
// verbatim for entries the merge does not rewrite.
type RelatedURL struct {
	URL         string `json:"URL"`
	Type        string `json:"Type,omitempty"`
	Subtype     string `json:"Subtype,omitempty"`
	Description string `json:"Description,omitempty"`
}

type metadataSpecification struct {
	URL     string `json:"URL"`
	Name    string `json:"Name"`
	Version string `json:"Version"`
}

type record struct {
	GranuleUR           string `json:"GranuleUR"`
	CollectionReference struct {
		ShortName  string `json:"ShortName"`
		EntryTitle string `json:"EntryTitle"`
	} `json:"CollectionReference"`
	RelatedUrls           []json.RawMessage      `json:"RelatedUrls"`
	MetadataSpecification *metadataSpecification `json:"MetadataSpecification"`
}

// Header holds the identifying fields of a UMM-G record.
type Header struct {
	GranuleUR  string
	Collection string
}

// ReadHeader extracts the identifying fields of doc. The collection name
// comes from CollectionReference, preferring ShortName over EntryTitle.
func ReadHeader(doc []byte) (*Header, error) {
	rec, err := parse(doc)
	if err != nil {
		return nil, err
	}
	h := &Header{GranuleUR: rec.GranuleUR, Collection: rec.CollectionReference.ShortName}
	if h.Collection == "" {
		h.Collection = rec.CollectionReference.EntryTitle
	}
	return h, nil
}

// Links returns the modeled view of the record's RelatedUrls entries.
func Links(doc []byte) ([]RelatedURL, error) {
	rec, err := parse(doc)
	if err != nil {
		return nil, err
	}
	out := make([]RelatedURL, 0, len(rec.RelatedUrls))
	for _, raw := range rec.RelatedUrls {
		v, err := view(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// MergeS3Links returns a new UMM-G record with the direct-S3 entries of
// RelatedUrls replaced by the S3 URLs of set: every existing entry of type
// "GET DATA VIA DIRECT ACCESS" is discarded, the new entries are written
// first in input order, and all other entries follow in their original
// order. A set without S3 URLs returns the record unchanged.
func MergeS3Links(doc []byte, set *links.UpdateSet) ([]byte, error) {
	if len(set.S3) == 0 {
		return doc, nil
	}
	rec, err := parse(doc)
	if err != nil {
		return nil, err
	}
	merged := make([]json.RawMessage, 0, len(set.S3)+len(rec.RelatedUrls))
	for _, l := range set.S3 {
		raw, err := json.Marshal(RelatedURL{URL: l.URL, Type: S3Type, Description: S3Description})
		if err != nil {
			return nil, err
		}
		merged = append(merged, raw)
	}
	for _, raw := range rec.RelatedUrls {
		v, err := view(raw)
		if err != nil {
			return nil, err
		}
		if v.IsS3() {
			continue
		}
		merged = append(merged, raw)
	}
	return patch(doc, merged, rec.MetadataSpecification)
}

// MergeOpendapLinks returns a new UMM-G record with the OPeNDAP entries of
// RelatedUrls reconciled against the on-prem and cloud URLs of set, under
// the same slot rules as the ECHO10 merger. cloudHosts nil means
// links.DefaultCloudHosts. A set without OPeNDAP URLs returns the record
// unchanged.
func MergeOpendapLinks(doc []byte, set *links.UpdateSet, cloudHosts links.HostMatcher) ([]byte, error) {
	if !set.HasOpendap() {
		return doc, nil
	}
	if cloudHosts == nil {
		cloudHosts = links.DefaultCloudHosts
	}
	rec, err := parse(doc)
	if err != nil {
		return nil, err
	}

	var existingOnPrem, existingCloud json.RawMessage
	var other []json.RawMessage
	for _, raw := range rec.RelatedUrls {
		v, err := view(raw)
		if err != nil {
			return nil, err
		}
		if v.IsOpendap() {
			if isCloudHost(v.URL, cloudHosts) {
				if existingCloud == nil {
					existingCloud = raw
					continue
				}
			} else if existingOnPrem == nil {
				existingOnPrem = raw
				continue
			}
		}
		other = append(other, raw)
	}

	var merged []json.RawMessage
	onPrem, err := buildSlot(set.OnPrem, existingOnPrem)
	if err != nil {
		return nil, err
	}
	if onPrem != nil {
		merged = append(merged, onPrem)
	}
	cloud, err := buildSlot(set.Cloud, existingCloud)
	if err != nil {
		return nil, err
	}
	if cloud != nil {
		merged = append(merged, cloud)
	}
	merged = append(merged, other...)

	return patch(doc, merged, rec.MetadataSpecification)
}

// buildSlot returns the entry for one OPeNDAP category: a fresh entry when
// upd supplies a URL (preserving the occupying entry's type and subtype),
// or the existing entry verbatim when it does not.
func buildSlot(upd *links.Link, existing json.RawMessage) (json.RawMessage, error) {
	if upd == nil {
		return existing, nil
	}
	typ, sub := ServiceAPIType, OpendapSubtype
	if existing != nil {
		v, err := view(existing)
		if err != nil {
			return nil, err
		}
		if v.Type != "" {
			typ, sub = v.Type, v.Subtype
		}
	}
	return json.Marshal(RelatedURL{URL: upd.URL, Type: typ, Subtype: sub})
}

// IsS3 reports whether the entry provides direct S3 access.
func (u RelatedURL) IsS3() bool {
	return u.Type == S3Type
}

// IsOpendap reports whether the entry points at an OPeNDAP endpoint,
// under either the service API type or the legacy access type.
func (u RelatedURL) IsOpendap() bool {
	if u.Type == ServiceAPIType && u.Subtype == OpendapSubtype {
		return true
	}
	return u.Type == legacyOpendapType
}

func isCloudHost(rawURL string, cloudHosts links.HostMatcher) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return cloudHosts.MatchHost(u.Hostname())
}

func parse(doc []byte) (*record, error) {
	t := bytes.TrimLeft(doc, " \t\r\n")
	if len(t) == 0 || t[0] != '{' {
		return nil, &links.DocumentFormatError{Format: "UMM-G", Err: fmt.Errorf("top-level value is not an object")}
	}
	var rec record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, &links.DocumentFormatError{Format: "UMM-G", Err: err}
	}
	return &rec, nil
}

func view(raw json.RawMessage) (RelatedURL, error) {
	var v RelatedURL
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &links.DocumentFormatError{Format: "UMM-G", Err: fmt.Errorf("bad RelatedUrls entry: %v", err)}
	}
	return v, nil
}

// patch applies the rebuilt RelatedUrls (and, when due, the raised
// MetadataSpecification) to the original record bytes as a merge patch.
func patch(doc []byte, relatedUrls []json.RawMessage, spec *metadataSpecification) ([]byte, error) {
	p := map[string]json.RawMessage{}
	arr, err := json.Marshal(relatedUrls)
	if err != nil {
		return nil, err
	}
	p["RelatedUrls"] = arr
	if bumped := bumpSpec(spec); bumped != nil {
		raw, err := json.Marshal(bumped)
		if err != nil {
			return nil, err
		}
		p["MetadataSpecification"] = raw
	}
	pb, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(doc, pb)
	if err != nil {
		return nil, fmt.Errorf("patching record: %v", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, merged, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// bumpSpec returns the raised metadata specification when the record's
// version is valid and predates the direct access type, nil otherwise.
// Records without a specification block are left alone.
func bumpSpec(cur *metadataSpecification) *metadataSpecification {
	if cur == nil {
		return nil
	}
	v := "v" + cur.Version
	if !semver.IsValid(v) || semver.Compare(v, "v"+specVersion) >= 0 {
		return nil
	}
	return &metadataSpecification{URL: specURL, Name: specName, Version: specVersion}
}
