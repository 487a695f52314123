// Package echo10 rewrites the OnlineResources section of ECHO10 granule
// records. The merge is slot-based: the container holds at most one on-prem
// and at most one cloud OPeNDAP entry, and an update replaces exactly those
// slots while every other entry passes through unchanged.
package echo10

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/xmltree"
)

// OpendapType is the canonical resource type of OPeNDAP entries.
const OpendapType = "GET DATA : OPENDAP DATA"

// opendapTypeRegexp matches the OPeNDAP type marker, optionally followed by
// a parenthetical sub-format suffix such as "(DODS)".
var opendapTypeRegexp = regexp.MustCompile(`(?i)^GET DATA : OPENDAP DATA\s*(\(.*\))?$`)

// elementsAfterResources holds the children of Granule that the ECHO10
// schema orders after OnlineResources. A newly created container is
// inserted before the first of these present in the record.
var elementsAfterResources = map[string]bool{
	"Orbit":                     true,
	"AssociatedBrowseImages":    true,
	"AssociatedBrowseImageUrls": true,
	"CloudCover":                true,
	"DataFormat":                true,
	"Visible":                   true,
	"MetadataStandardName":      true,
	"MetadataStandardVersion":   true,
}

// Resource is one OnlineResource entry of an ECHO10 record.
type Resource struct {
	URL         string
	Type        string
	Description string
	MimeType    string
}

// IsOpendapType reports whether t is the OPeNDAP type marker, with or
// without a parenthetical sub-format suffix.
func IsOpendapType(t string) bool {
	return opendapTypeRegexp.MatchString(strings.TrimSpace(t))
}

// Header holds the identifying fields of an ECHO10 record.
type Header struct {
	GranuleUR  string
	Collection string
}

// ReadHeader extracts the identifying fields of doc. The collection name
// comes from Collection/ShortName, falling back to Collection/DataSetId.
func ReadHeader(doc []byte) (*Header, error) {
	tree, err := xmltree.Parse(doc)
	if err != nil {
		return nil, &links.DocumentFormatError{Format: "ECHO10", Err: err}
	}
	root := tree.Root()
	h := &Header{GranuleUR: childText(root, "GranuleUR")}
	if c := root.Child("Collection"); c != nil {
		h.Collection = childText(c, "ShortName")
		if h.Collection == "" {
			h.Collection = childText(c, "DataSetId")
		}
	}
	return h, nil
}

// Links returns the OnlineResource entries of doc in document order.
// A record without an OnlineResources container yields no entries.
func Links(doc []byte) ([]Resource, error) {
	tree, err := xmltree.Parse(doc)
	if err != nil {
		return nil, &links.DocumentFormatError{Format: "ECHO10", Err: err}
	}
	container := tree.Root().Child("OnlineResources")
	if container == nil {
		return nil, nil
	}
	var out []Resource
	for _, e := range container.Elements("OnlineResource") {
		out = append(out, Resource{
			URL:         childText(e, "URL"),
			Type:        childText(e, "Type"),
			Description: childText(e, "Description"),
			MimeType:    childText(e, "MimeType"),
		})
	}
	return out, nil
}

// MergeLinks returns a new ECHO10 document with the OPeNDAP entries of
// OnlineResources reconciled against set. The input bytes are never
// modified. cloudHosts decides which hosts count as cloud OPeNDAP
// endpoints; nil means links.DefaultCloudHosts.
//
// Direct S3 URLs have no ECHO10 representation; a set containing any
// yields a ValidationError. A set with neither an on-prem nor a cloud URL
// returns the document unchanged.
func MergeLinks(doc []byte, set *links.UpdateSet, cloudHosts links.HostMatcher) ([]byte, error) {
	if len(set.S3) > 0 {
		return nil, &links.ValidationError{
			Reason: "direct S3 links are not supported in ECHO10 records, only in UMM-G",
		}
	}
	if !set.HasOpendap() {
		return doc, nil
	}
	if cloudHosts == nil {
		cloudHosts = links.DefaultCloudHosts
	}

	tree, err := xmltree.Parse(doc)
	if err != nil {
		return nil, &links.DocumentFormatError{Format: "ECHO10", Err: err}
	}
	root := tree.Root()
	container := root.Child("OnlineResources")

	// Classify the existing entries. The first OPeNDAP-typed entry per
	// category occupies the slot; any later ones fall through to other.
	var existingOnPrem, existingCloud *xmltree.Node
	var other []*xmltree.Node
	if container != nil {
		for _, e := range container.Elements("OnlineResource") {
			if IsOpendapType(childText(e, "Type")) {
				if isCloudHost(childText(e, "URL"), cloudHosts) {
					if existingCloud == nil {
						existingCloud = e
						continue
					}
				} else if existingOnPrem == nil {
					existingOnPrem = e
					continue
				}
			}
			other = append(other, e)
		}
	}

	if container == nil {
		container = placeContainer(root)
	}
	containerIndent := indentBefore(root, container)
	entryIndent := containerIndent + "  "

	var entries []*xmltree.Node
	if slot := buildSlot(set.OnPrem, existingOnPrem, entryIndent); slot != nil {
		entries = append(entries, slot)
	}
	if slot := buildSlot(set.Cloud, existingCloud, entryIndent); slot != nil {
		entries = append(entries, slot)
	}
	entries = append(entries, other...)

	children := make([]*xmltree.Node, 0, 2*len(entries)+1)
	for _, e := range entries {
		children = append(children, xmltree.Text("\n"+entryIndent), e)
	}
	children = append(children, xmltree.Text("\n"+containerIndent))
	container.Children = children

	return tree.Bytes(), nil
}

// buildSlot returns the container entry for one category: a fresh
// URL+Type entry when upd supplies a URL, preserving the occupying
// entry's type text, or the existing entry unchanged when it does not.
func buildSlot(upd *links.Link, existing *xmltree.Node, indent string) *xmltree.Node {
	if upd == nil {
		return existing
	}
	typ := OpendapType
	if existing != nil {
		if t := childText(existing, "Type"); t != "" {
			typ = t
		}
	}
	inner := indent + "  "
	return xmltree.Element("OnlineResource",
		xmltree.Text("\n"+inner),
		xmltree.Element("URL", xmltree.Text(upd.URL)),
		xmltree.Text("\n"+inner),
		xmltree.Element("Type", xmltree.Text(typ)),
		xmltree.Text("\n"+indent),
	)
}

// placeContainer inserts an empty OnlineResources element at its
// schema-ordered position in root and returns it.
func placeContainer(root *xmltree.Node) *xmltree.Node {
	container := xmltree.Element("OnlineResources")
	var after *xmltree.Node
	for _, c := range root.Children {
		if c.Kind == xmltree.ElementNode && elementsAfterResources[c.Name] {
			after = c
			break
		}
	}
	if after != nil {
		// The whitespace preceding the successor keeps indenting the
		// container; the successor gets a fresh copy of it.
		indent := indentBefore(root, after)
		root.InsertBefore(container, after)
		root.InsertBefore(xmltree.Text("\n"+indent), after)
		return container
	}
	// Append as the last child, indented like the existing children.
	indent := "  "
	for i := len(root.Children) - 1; i >= 0; i-- {
		if c := root.Children[i]; c.Kind == xmltree.ElementNode {
			indent = indentBefore(root, c)
			break
		}
	}
	if n := len(root.Children); n > 0 && root.Children[n-1].IsWhitespace() {
		last := root.Children[n-1]
		root.InsertBefore(xmltree.Text("\n"+indent), last)
		root.InsertBefore(container, last)
		return container
	}
	root.AppendChild(xmltree.Text("\n" + indent))
	root.AppendChild(container)
	root.AppendChild(xmltree.Text("\n"))
	return container
}

// indentBefore returns the indentation of child on its line, derived from
// the whitespace node preceding it. Falls back to two spaces.
func indentBefore(parent, child *xmltree.Node) string {
	i := parent.Index(child)
	if i > 0 {
		prev := parent.Children[i-1]
		if prev.IsWhitespace() {
			t := prev.Text
			if j := strings.LastIndexByte(t, '\n'); j >= 0 {
				return t[j+1:]
			}
			return t
		}
	}
	return "  "
}

func childText(n *xmltree.Node, name string) string {
	if c := n.Child(name); c != nil {
		return strings.TrimSpace(c.TextContent())
	}
	return ""
}

func isCloudHost(rawURL string, cloudHosts links.HostMatcher) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return cloudHosts.MatchHost(u.Hostname())
}
