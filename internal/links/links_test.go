package links

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    Category
		wantErr bool
	}{
		{name: "s3", url: "s3://podaac-ops-cumulus-protected/MODIS_T-JPL/granule.nc", want: CategoryS3},
		{name: "s3 uppercase scheme", url: "S3://podaac-ops-cumulus-protected/granule.nc", want: CategoryS3},
		{name: "cloud ops", url: "https://opendap.earthdata.nasa.gov/collections/C1-PROV/granules/G1", want: CategoryCloud},
		{name: "cloud uat", url: "https://opendap.uat.earthdata.nasa.gov/collections/C1-PROV/granules/G1", want: CategoryCloud},
		{name: "cloud sit", url: "http://opendap.sit.earthdata.nasa.gov/collections/C1-PROV/granules/G1", want: CategoryCloud},
		{name: "cloud host case-insensitive", url: "https://OPENDAP.Earthdata.NASA.gov/granules/G1", want: CategoryCloud},
		{name: "cloud host suffix attack is on-prem", url: "https://opendap.earthdata.nasa.gov.example.com/g", want: CategoryOnPrem},
		{name: "on-prem https", url: "https://acdisc.gesdisc.eosdis.nasa.gov/opendap/HDF-EOS5/g.he5", want: CategoryOnPrem},
		{name: "on-prem http", url: "http://opendap.example.gov/opendap/hyrax/granule.nc4", want: CategoryOnPrem},
		{name: "ftp rejected", url: "ftp://ftp.example.gov/granule.nc", wantErr: true},
		{name: "no scheme", url: "opendap.example.gov/granule.nc", wantErr: true},
		{name: "missing scheme before colon", url: "://granule.nc", wantErr: true},
		{name: "malformed host", url: "http://[::1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.url, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Classify(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("Classify(%q) error = %T, want *ValidationError", tt.url, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestClassifyCustomMatcher(t *testing.T) {
	all := HostMatcherFunc(func(host string) bool { return true })
	got, err := Classify("https://opendap.example.gov/granule.nc", all)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got != CategoryCloud {
		t.Errorf("Classify() = %v, want %v", got, CategoryCloud)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *UpdateSet
	}{
		{
			name:  "single on-prem",
			input: "https://opendap.example.gov/opendap/granule.nc",
			want: &UpdateSet{
				OnPrem: &Link{URL: "https://opendap.example.gov/opendap/granule.nc", Category: CategoryOnPrem},
			},
		},
		{
			name:  "all categories",
			input: "https://opendap.example.gov/g.nc,https://opendap.earthdata.nasa.gov/g.nc,s3://bucket-a/g.nc,s3://bucket-b/g.nc",
			want: &UpdateSet{
				OnPrem: &Link{URL: "https://opendap.example.gov/g.nc", Category: CategoryOnPrem},
				Cloud:  &Link{URL: "https://opendap.earthdata.nasa.gov/g.nc", Category: CategoryCloud},
				S3: []Link{
					{URL: "s3://bucket-a/g.nc", Category: CategoryS3},
					{URL: "s3://bucket-b/g.nc", Category: CategoryS3},
				},
			},
		},
		{
			name:  "whitespace trimmed",
			input: " s3://bucket/g.nc , https://opendap.uat.earthdata.nasa.gov/g.nc ",
			want: &UpdateSet{
				Cloud: &Link{URL: "https://opendap.uat.earthdata.nasa.gov/g.nc", Category: CategoryCloud},
				S3:    []Link{{URL: "s3://bucket/g.nc", Category: CategoryS3}},
			},
		},
		{
			name:  "query string carried verbatim",
			input: "https://opendap.example.gov/g.nc?dap4.ce=sst%5B0%5D",
			want: &UpdateSet{
				OnPrem: &Link{URL: "https://opendap.example.gov/g.nc?dap4.ce=sst%5B0%5D", Category: CategoryOnPrem},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, nil)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty input", input: ""},
		{name: "whitespace only", input: "   "},
		{name: "empty element", input: "s3://bucket/g.nc,,s3://bucket/h.nc"},
		{name: "trailing comma", input: "s3://bucket/g.nc,"},
		{name: "two on-prem URLs", input: "https://a.example.gov/g.nc,https://b.example.gov/g.nc"},
		{name: "two cloud URLs", input: "https://opendap.earthdata.nasa.gov/a,https://opendap.uat.earthdata.nasa.gov/b"},
		{name: "unsupported scheme", input: "ftp://ftp.example.gov/g.nc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input, nil)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.input)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Parse(%q) error = %T, want *ValidationError", tt.input, err)
			}
		})
	}
}

func TestUpdateSetAll(t *testing.T) {
	set, err := Parse("s3://bucket/g.nc,https://opendap.example.gov/g.nc", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []Link{
		{URL: "https://opendap.example.gov/g.nc", Category: CategoryOnPrem},
		{URL: "s3://bucket/g.nc", Category: CategoryS3},
	}
	if diff := cmp.Diff(want, set.All()); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}
	if !set.HasOpendap() {
		t.Errorf("HasOpendap() = false, want true")
	}
}
