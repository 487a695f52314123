// Package granule models granule metadata records independently of their
// encoding and dispatches link updates to the per-format mergers.
package granule

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/echo10"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/ummg"
)

// Format identifies the metadata encoding of a record.
type Format string

const (
	FormatECHO10 Format = "echo10"
	FormatUMMG   Format = "umm-g"
)

// DisplayName returns the conventional spelling of the format name.
func (f Format) DisplayName() string {
	if f == FormatUMMG {
		return "UMM-G"
	}
	return "ECHO10"
}

// DetectFormat determines the metadata format from the file extension,
// falling back to a content sniff for files named otherwise.
func DetectFormat(path string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return FormatECHO10, nil
	case ".json":
		return FormatUMMG, nil
	}
	t := bytes.TrimLeft(data, " \t\r\n")
	if len(t) > 0 {
		switch t[0] {
		case '<':
			return FormatECHO10, nil
		case '{':
			return FormatUMMG, nil
		}
	}
	return "", fmt.Errorf("cannot determine metadata format of %s", path)
}

// Record is one granule metadata record, kept as raw bytes so that a
// rewrite can preserve the parts it does not touch.
type Record struct {
	// UR is the granule's unique identifier within the archive.
	UR string
	// Collection names the dataset the granule belongs to. May be empty.
	Collection string
	Format     Format
	// Path is the store-relative file the record was read from.
	Path string
	// Data is the record verbatim.
	Data []byte
}

// Parse reads the record at path and extracts its identifying fields.
// Records without a GranuleUR are rejected.
func Parse(path string, data []byte) (*Record, error) {
	format, err := DetectFormat(path, data)
	if err != nil {
		return nil, err
	}
	r := &Record{Format: format, Path: path, Data: data}
	switch format {
	case FormatECHO10:
		h, err := echo10.ReadHeader(data)
		if err != nil {
			return nil, err
		}
		r.UR, r.Collection = h.GranuleUR, h.Collection
	case FormatUMMG:
		h, err := ummg.ReadHeader(data)
		if err != nil {
			return nil, err
		}
		r.UR, r.Collection = h.GranuleUR, h.Collection
	}
	if r.UR == "" {
		return nil, &links.DocumentFormatError{
			Format: format.DisplayName(),
			Err:    fmt.Errorf("%s has no GranuleUR", path),
		}
	}
	return r, nil
}

// ApplyLinks returns a copy of the record with set merged into its
// distribution links. The receiver is left unchanged. ECHO10 records
// reject sets carrying S3 URLs; UMM-G records apply the S3 replacement
// first and the OPeNDAP slot merge second.
func (r *Record) ApplyLinks(set *links.UpdateSet, cloudHosts links.HostMatcher) (*Record, error) {
	var data []byte
	var err error
	switch r.Format {
	case FormatECHO10:
		data, err = echo10.MergeLinks(r.Data, set, cloudHosts)
	case FormatUMMG:
		data, err = ummg.MergeS3Links(r.Data, set)
		if err == nil {
			data, err = ummg.MergeOpendapLinks(data, set, cloudHosts)
		}
	default:
		err = fmt.Errorf("unsupported metadata format %q", r.Format)
	}
	if err != nil {
		return nil, err
	}
	nr := *r
	nr.Data = data
	return &nr, nil
}

// Links returns the record's current distribution links classified by
// category, plus the URLs that belong to no category (documentation,
// browse imagery and the like).
func (r *Record) Links(cloudHosts links.HostMatcher) ([]links.Link, []string, error) {
	if cloudHosts == nil {
		cloudHosts = links.DefaultCloudHosts
	}
	var classified []links.Link
	var rest []string
	switch r.Format {
	case FormatECHO10:
		rs, err := echo10.Links(r.Data)
		if err != nil {
			return nil, nil, err
		}
		for _, res := range rs {
			if !echo10.IsOpendapType(res.Type) {
				rest = append(rest, res.URL)
				continue
			}
			classified = append(classified, classifyOpendap(res.URL, cloudHosts))
		}
	case FormatUMMG:
		us, err := ummg.Links(r.Data)
		if err != nil {
			return nil, nil, err
		}
		for _, u := range us {
			switch {
			case u.IsS3():
				classified = append(classified, links.Link{URL: u.URL, Category: links.CategoryS3})
			case u.IsOpendap():
				classified = append(classified, classifyOpendap(u.URL, cloudHosts))
			default:
				rest = append(rest, u.URL)
			}
		}
	default:
		return nil, nil, fmt.Errorf("unsupported metadata format %q", r.Format)
	}
	return classified, rest, nil
}

// LinkSummary reports which link categories a record currently carries.
type LinkSummary struct {
	OnPrem bool
	Cloud  bool
	S3     bool
}

func (r *Record) LinkSummary(cloudHosts links.HostMatcher) (LinkSummary, error) {
	ls, _, err := r.Links(cloudHosts)
	if err != nil {
		return LinkSummary{}, err
	}
	var s LinkSummary
	for _, l := range ls {
		switch l.Category {
		case links.CategoryOnPrem:
			s.OnPrem = true
		case links.CategoryCloud:
			s.Cloud = true
		case links.CategoryS3:
			s.S3 = true
		}
	}
	return s, nil
}

// classifyOpendap assigns an OPeNDAP URL to the on-prem or cloud category
// by its host. URLs that do not parse count as on-prem.
func classifyOpendap(rawURL string, cloudHosts links.HostMatcher) links.Link {
	cat, err := links.Classify(rawURL, cloudHosts)
	if err != nil || cat == links.CategoryS3 {
		return links.Link{URL: rawURL, Category: links.CategoryOnPrem}
	}
	return links.Link{URL: rawURL, Category: cat}
}
