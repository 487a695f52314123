package ummg

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
)

func mustParseSet(t *testing.T, s string) *links.UpdateSet {
	t.Helper()
	set, err := links.Parse(s, nil)
	if err != nil {
		t.Fatalf("links.Parse(%q) error = %v", s, err)
	}
	return set
}

func TestMergeS3LinksFullReplace(t *testing.T) {
	input := `{
  "GranuleUR": "20020831000000-JPL-L2P_GHRSST",
  "CollectionReference": {
    "ShortName": "MODIS_T-JPL-L2P-v2019.0",
    "Version": "2019.0"
  },
  "RelatedUrls": [
    {
      "URL": "https://archive.podaac.earthdata.nasa.gov/podaac-ops-cumulus-protected/g1.nc",
      "Type": "GET DATA",
      "Description": "Download g1.nc",
      "GetData": {
        "Format": "NETCDF-4",
        "Size": 12.25,
        "Unit": "MB"
      }
    }
  ],
  "MetadataSpecification": {
    "URL": "https://cdn.earthdata.nasa.gov/umm/granule/v1.6.5",
    "Name": "UMM-G",
    "Version": "1.6.5"
  }
}
`
	want := `{
  "GranuleUR": "20020831000000-JPL-L2P_GHRSST",
  "CollectionReference": {
    "ShortName": "MODIS_T-JPL-L2P-v2019.0",
    "Version": "2019.0"
  },
  "RelatedUrls": [
    {
      "URL": "s3://abc/foo",
      "Type": "GET DATA VIA DIRECT ACCESS",
      "Description": "This link provides direct download access via S3 to the granule"
    },
    {
      "URL": "s3://abc/bar",
      "Type": "GET DATA VIA DIRECT ACCESS",
      "Description": "This link provides direct download access via S3 to the granule"
    },
    {
      "URL": "https://archive.podaac.earthdata.nasa.gov/podaac-ops-cumulus-protected/g1.nc",
      "Type": "GET DATA",
      "Description": "Download g1.nc",
      "GetData": {
        "Format": "NETCDF-4",
        "Size": 12.25,
        "Unit": "MB"
      }
    }
  ],
  "MetadataSpecification": {
    "URL": "https://cdn.earthdata.nasa.gov/umm/granule/v1.6.6",
    "Name": "UMM-G",
    "Version": "1.6.6"
  }
}
`
	got, err := MergeS3Links([]byte(input), mustParseSet(t, "s3://abc/foo, s3://abc/bar"))
	if err != nil {
		t.Fatalf("MergeS3Links() error = %v", err)
	}
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("MergeS3Links() mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeS3LinksDiscardsAllMatching(t *testing.T) {
	// Three existing direct-access entries, one with the same URL as the
	// update: all are discarded, only the canonical new entry remains.
	input := `{
  "GranuleUR": "G1",
  "RelatedUrls": [
    {"URL": "s3://abc/foo", "Type": "GET DATA VIA DIRECT ACCESS", "Description": "stale one"},
    {"URL": "s3://old/bar", "Type": "GET DATA VIA DIRECT ACCESS"},
    {"URL": "https://example.gov/doc.pdf", "Type": "VIEW RELATED INFORMATION"},
    {"URL": "s3://old/baz", "Type": "GET DATA VIA DIRECT ACCESS"}
  ]
}
`
	got, err := MergeS3Links([]byte(input), mustParseSet(t, "s3://abc/foo"))
	if err != nil {
		t.Fatalf("MergeS3Links() error = %v", err)
	}
	ls, err := Links(got)
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	want := []RelatedURL{
		{URL: "s3://abc/foo", Type: S3Type, Description: S3Description},
		{URL: "https://example.gov/doc.pdf", Type: "VIEW RELATED INFORMATION"},
	}
	if diff := cmp.Diff(want, ls); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeS3LinksCreatesRelatedUrls(t *testing.T) {
	input := `{
  "GranuleUR": "G1",
  "MetadataSpecification": {
    "URL": "https://cdn.earthdata.nasa.gov/umm/granule/v1.6.6",
    "Name": "UMM-G",
    "Version": "1.6.6"
  }
}
`
	want := `{
  "GranuleUR": "G1",
  "MetadataSpecification": {
    "URL": "https://cdn.earthdata.nasa.gov/umm/granule/v1.6.6",
    "Name": "UMM-G",
    "Version": "1.6.6"
  },
  "RelatedUrls": [
    {
      "URL": "s3://abc/foo",
      "Type": "GET DATA VIA DIRECT ACCESS",
      "Description": "This link provides direct download access via S3 to the granule"
    }
  ]
}
`
	got, err := MergeS3Links([]byte(input), mustParseSet(t, "s3://abc/foo"))
	if err != nil {
		t.Fatalf("MergeS3Links() error = %v", err)
	}
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("MergeS3Links() mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeS3LinksNoOpWithoutS3(t *testing.T) {
	input := `{"GranuleUR": "G1"}`
	got, err := MergeS3Links([]byte(input), mustParseSet(t, "http://example.com/foo"))
	if err != nil {
		t.Fatalf("MergeS3Links() error = %v", err)
	}
	if string(got) != input {
		t.Errorf("MergeS3Links() modified the record:\n%s", cmp.Diff(input, string(got)))
	}
}

func TestMergeS3LinksIdempotent(t *testing.T) {
	input := `{
  "GranuleUR": "G1",
  "RelatedUrls": [
    {"URL": "s3://old/bar", "Type": "GET DATA VIA DIRECT ACCESS"},
    {"URL": "https://example.gov/doc.pdf", "Type": "VIEW RELATED INFORMATION"}
  ],
  "MetadataSpecification": {
    "URL": "https://cdn.earthdata.nasa.gov/umm/granule/v1.6.2",
    "Name": "UMM-G",
    "Version": "1.6.2"
  }
}
`
	set := mustParseSet(t, "s3://abc/foo,s3://abc/bar")
	once, err := MergeS3Links([]byte(input), set)
	if err != nil {
		t.Fatalf("first MergeS3Links() error = %v", err)
	}
	twice, err := MergeS3Links(once, set)
	if err != nil {
		t.Fatalf("second MergeS3Links() error = %v", err)
	}
	if diff := cmp.Diff(string(once), string(twice)); diff != "" {
		t.Errorf("second merge differs from first (-once +twice):\n%s", diff)
	}
}

func TestMergeOpendapLinksSlots(t *testing.T) {
	input := `{
  "GranuleUR": "G1",
  "RelatedUrls": [
    {"URL": "https://acdisc.gesdisc.eosdis.nasa.gov/opendap/g1.hdf.html", "Type": "USE SERVICE API", "Subtype": "OPENDAP DATA", "Description": "on-prem OPeNDAP"},
    {"URL": "s3://bucket/g1.nc", "Type": "GET DATA VIA DIRECT ACCESS"},
    {"URL": "https://example.gov/doc.pdf", "Type": "VIEW RELATED INFORMATION"}
  ]
}
`
	set := mustParseSet(t, "http://example.com/foo,https://opendap.earthdata.nasa.gov/new")
	got, err := MergeOpendapLinks([]byte(input), set, nil)
	if err != nil {
		t.Fatalf("MergeOpendapLinks() error = %v", err)
	}
	ls, err := Links(got)
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	want := []RelatedURL{
		{URL: "http://example.com/foo", Type: ServiceAPIType, Subtype: OpendapSubtype},
		{URL: "https://opendap.earthdata.nasa.gov/new", Type: ServiceAPIType, Subtype: OpendapSubtype},
		{URL: "s3://bucket/g1.nc", Type: S3Type},
		{URL: "https://example.gov/doc.pdf", Type: "VIEW RELATED INFORMATION"},
	}
	if diff := cmp.Diff(want, ls); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeOpendapLinksPreservesLegacyType(t *testing.T) {
	input := `{
  "GranuleUR": "G1",
  "RelatedUrls": [
    {"URL": "https://acdisc.gesdisc.eosdis.nasa.gov/opendap/g1.hdf.html", "Type": "GET DATA : OPENDAP DATA"}
  ]
}
`
	got, err := MergeOpendapLinks([]byte(input), mustParseSet(t, "http://example.com/foo"), nil)
	if err != nil {
		t.Fatalf("MergeOpendapLinks() error = %v", err)
	}
	ls, err := Links(got)
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	if len(ls) != 1 {
		t.Fatalf("Links() = %d entries, want 1", len(ls))
	}
	if ls[0].Type != "GET DATA : OPENDAP DATA" {
		t.Errorf("Type = %q, want legacy type preserved", ls[0].Type)
	}
	if ls[0].URL != "http://example.com/foo" {
		t.Errorf("URL = %q, want %q", ls[0].URL, "http://example.com/foo")
	}
}

func TestMergeOpendapLinksKeepsUntouchedSlot(t *testing.T) {
	input := `{
  "GranuleUR": "G1",
  "RelatedUrls": [
    {"URL": "https://example.gov/doc.pdf", "Type": "VIEW RELATED INFORMATION"},
    {"URL": "https://acdisc.gesdisc.eosdis.nasa.gov/opendap/g1.hdf.html", "Type": "USE SERVICE API", "Subtype": "OPENDAP DATA", "Description": "keep me"}
  ]
}
`
	got, err := MergeOpendapLinks([]byte(input), mustParseSet(t, "https://opendap.earthdata.nasa.gov/new"), nil)
	if err != nil {
		t.Fatalf("MergeOpendapLinks() error = %v", err)
	}
	ls, err := Links(got)
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	want := []RelatedURL{
		{URL: "https://acdisc.gesdisc.eosdis.nasa.gov/opendap/g1.hdf.html", Type: ServiceAPIType, Subtype: OpendapSubtype, Description: "keep me"},
		{URL: "https://opendap.earthdata.nasa.gov/new", Type: ServiceAPIType, Subtype: OpendapSubtype},
		{URL: "https://example.gov/doc.pdf", Type: "VIEW RELATED INFORMATION"},
	}
	if diff := cmp.Diff(want, ls); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeOpendapLinksNoOpWithoutOpendap(t *testing.T) {
	input := `{"GranuleUR": "G1"}`
	got, err := MergeOpendapLinks([]byte(input), mustParseSet(t, "s3://abc/foo"), nil)
	if err != nil {
		t.Fatalf("MergeOpendapLinks() error = %v", err)
	}
	if string(got) != input {
		t.Errorf("MergeOpendapLinks() modified the record:\n%s", cmp.Diff(input, string(got)))
	}
}

func TestMergeMalformedRecord(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not JSON", doc: "<Granule/>"},
		{name: "array", doc: "[]"},
		{name: "null", doc: "null"},
		{name: "truncated", doc: `{"GranuleUR": "G1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MergeS3Links([]byte(tt.doc), mustParseSet(t, "s3://abc/foo"))
			if err == nil {
				t.Fatal("MergeS3Links() succeeded, want error")
			}
			var ferr *links.DocumentFormatError
			if !errors.As(err, &ferr) {
				t.Errorf("error = %T, want *links.DocumentFormatError", err)
			}
			if !strings.Contains(err.Error(), "UMM-G") {
				t.Errorf("error %q does not name the format", err)
			}
		})
	}
}

func TestBumpSpec(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    string // "" means no bump
	}{
		{name: "older", version: "1.6.5", want: specVersion},
		{name: "much older", version: "1.5", want: specVersion},
		{name: "target", version: "1.6.6", want: ""},
		{name: "newer", version: "1.6.7", want: ""},
		{name: "invalid", version: "draft", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bumpSpec(&metadataSpecification{URL: "u", Name: "UMM-G", Version: tt.version})
			if tt.want == "" {
				if got != nil {
					t.Fatalf("bumpSpec(%q) = %+v, want nil", tt.version, got)
				}
				return
			}
			if got == nil || got.Version != tt.want {
				t.Fatalf("bumpSpec(%q) = %+v, want version %q", tt.version, got, tt.want)
			}
		})
	}
	if got := bumpSpec(nil); got != nil {
		t.Errorf("bumpSpec(nil) = %+v, want nil", got)
	}
}
