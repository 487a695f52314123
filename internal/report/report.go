// Package report writes Markdown link inventory reports for a metadata
// repository. The output is an index page listing all collections and one
// page per collection tabulating the links of each granule.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/granule"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/repo"
)

// Generator builds the report structure.
type Generator struct {
	repo *repo.Repository
}

func NewGenerator(r *repo.Repository) *Generator {
	return &Generator{repo: r}
}

type granuleRow struct {
	UR     string
	Format string
	OnPrem bool
	Cloud  bool
	S3     bool
}

type collectionSummary struct {
	Name     string
	File     string
	Granules int
	Cloud    int
	S3       int
}

// collectionFileName derives a file name from a collection name.
// Collection names may contain spaces or path separators.
func collectionFileName(name string) string {
	if name == "" {
		return "no-collection.md"
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	return safe + ".md"
}

func displayName(collection string) string {
	if collection == "" {
		return "(no collection)"
	}
	return collection
}

// Generate builds the report in the output directory.
func (g *Generator) Generate(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", outputDir, err)
	}

	cloudHosts := g.repo.CloudHosts()
	var summaries []collectionSummary
	for _, name := range g.repo.Collections() {
		granules := g.repo.GranulesInCollection(name)

		var rows []granuleRow
		var missingCloud []string
		summary := collectionSummary{
			Name:     displayName(name),
			File:     collectionFileName(name),
			Granules: len(granules),
		}
		for _, rec := range granules {
			ls, err := rec.LinkSummary(cloudHosts)
			if err != nil {
				return fmt.Errorf("failed to summarize links of %s: %w", rec.UR, err)
			}
			rows = append(rows, granuleRow{
				UR:     rec.UR,
				Format: rec.Format.DisplayName(),
				OnPrem: ls.OnPrem,
				Cloud:  ls.Cloud,
				S3:     ls.S3,
			})
			if ls.Cloud {
				summary.Cloud++
			} else {
				missingCloud = append(missingCloud, rec.UR)
			}
			if ls.S3 {
				summary.S3++
			}
		}
		summaries = append(summaries, summary)

		if err := g.generateCollectionPage(outputDir, summary, rows, missingCloud); err != nil {
			return err
		}
	}

	return g.generateRootIndex(outputDir, summaries)
}

func (g *Generator) generateRootIndex(dir string, summaries []collectionSummary) error {
	f, err := os.Create(filepath.Join(dir, "index.md"))
	if err != nil {
		return fmt.Errorf("failed to create index.md in %s: %w", dir, err)
	}
	defer f.Close()

	data := struct {
		Title string
		Items []collectionSummary
	}{
		Title: "Link report",
		Items: summaries,
	}

	if err := indexTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("failed to execute index template: %w", err)
	}
	return nil
}

func (g *Generator) generateCollectionPage(dir string, summary collectionSummary, rows []granuleRow, missingCloud []string) error {
	f, err := os.Create(filepath.Join(dir, summary.File))
	if err != nil {
		return fmt.Errorf("failed to create %s in %s: %w", summary.File, dir, err)
	}
	defer f.Close()

	data := struct {
		Title        string
		Rows         []granuleRow
		MissingCloud []string
	}{
		Title:        summary.Name,
		Rows:         rows,
		MissingCloud: missingCloud,
	}

	if err := collectionTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("failed to execute collection template: %w", err)
	}
	return nil
}

// Templates

var indexTemplate = template.Must(template.New("index").Parse(`---
title: {{ .Title }}
---
<!-- Auto-generated by granlinks report. DO NOT EDIT. -->
# {{ .Title }}

## Collections

| Collection | Granules | With cloud OPeNDAP | With S3 |
|---|---|---|---|
{{ range .Items -}}
| [{{ .Name }}]({{ .File }}) | {{ .Granules }} | {{ .Cloud }} | {{ .S3 }} |
{{ end }}
`))

var collectionTemplate = template.Must(template.New("collection").Parse(`---
title: {{ .Title }}
---
<!-- Auto-generated by granlinks report. DO NOT EDIT. -->
# {{ .Title }}

## Granules

| Granule | Format | On-prem OPeNDAP | Cloud OPeNDAP | S3 |
|---|---|---|---|---|
{{ range .Rows -}}
| {{ .UR }} | {{ .Format }} | {{ if .OnPrem }}yes{{ else }}no{{ end }} | {{ if .Cloud }}yes{{ else }}no{{ end }} | {{ if .S3 }}yes{{ else }}no{{ end }} |
{{ end }}
{{ if .MissingCloud }}
## Granules without cloud access

{{ range .MissingCloud -}}
* {{ . }}
{{ end }}
{{- end }}
`))
