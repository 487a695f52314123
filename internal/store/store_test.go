package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const echo10Content = `<?xml version="1.0" encoding="UTF-8"?>
<Granule>
  <GranuleUR>G-0001-PODAAC</GranuleUR>
  <Collection>
    <ShortName>JPL-L2P-v1.0</ShortName>
  </Collection>
  <OnlineResources>
    <OnlineResource>
      <URL>https://opendap.jpl.example.org/opendap/G1.nc</URL>
      <Type>GET DATA : OPENDAP DATA</Type>
    </OnlineResource>
  </OnlineResources>
</Granule>
`

const ummgContent = `{
  "GranuleUR": "G-0002-POCLOUD",
  "CollectionReference": {
    "ShortName": "JPL-L2P-v1.0"
  },
  "RelatedUrls": [
    {
      "URL": "https://archive.jpl.example.org/G2.nc",
      "Type": "GET DATA"
    }
  ]
}
`

// writeFiles populates a temp dir with the given relative path contents
// and returns a DiskStore rooted there.
func writeFiles(t *testing.T, files map[string]string) (*DiskStore, string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0666); err != nil {
			t.Fatalf("Failed to write temp file: %v", err)
		}
	}
	return NewDiskStore(dir), dir
}

func TestReadRecords(t *testing.T) {
	t.Run("valid records", func(t *testing.T) {
		st, _ := writeFiles(t, map[string]string{
			"granules/g1.xml":    echo10Content,
			"granules/g2.json":   ummgContent,
			"granules/README.md": "not metadata",
		})

		records, err := ReadRecords(st, "granules")
		if err != nil {
			t.Fatalf("ReadRecords() error = %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("len(records) = %d, want %d", len(records), 2)
		}
		if records[0].UR != "G-0001-PODAAC" {
			t.Errorf("records[0].UR = %s, want %s", records[0].UR, "G-0001-PODAAC")
		}
		if records[0].Path != filepath.Join("granules", "g1.xml") {
			t.Errorf("records[0].Path = %s, want %s", records[0].Path, "granules/g1.xml")
		}
		if records[1].UR != "G-0002-POCLOUD" {
			t.Errorf("records[1].UR = %s, want %s", records[1].UR, "G-0002-POCLOUD")
		}
		if records[1].Collection != "JPL-L2P-v1.0" {
			t.Errorf("records[1].Collection = %s, want %s", records[1].Collection, "JPL-L2P-v1.0")
		}
	})

	t.Run("no metadata files", func(t *testing.T) {
		st, _ := writeFiles(t, map[string]string{
			"granules/README.md": "nothing here",
		})
		records, err := ReadRecords(st, "granules")
		if err != nil {
			t.Fatalf("ReadRecords() error = %v", err)
		}
		if len(records) != 0 {
			t.Errorf("len(records) = %d, want %d", len(records), 0)
		}
	})

	t.Run("malformed record", func(t *testing.T) {
		st, _ := writeFiles(t, map[string]string{
			"granules/g1.xml": "<Granule><GranuleUR>G-1</Granule>",
		})
		_, err := ReadRecords(st, "granules")
		if err == nil {
			t.Fatalf("ReadRecords() succeeded on malformed record, want error")
		}
		if !strings.Contains(err.Error(), "g1.xml") {
			t.Errorf("ReadRecords() error = %v, want the file name in the message", err)
		}
	})

	t.Run("missing GranuleUR", func(t *testing.T) {
		st, _ := writeFiles(t, map[string]string{
			"granules/g1.json": `{"CollectionReference": {"ShortName": "X"}}`,
		})
		if _, err := ReadRecords(st, "granules"); err == nil {
			t.Errorf("ReadRecords() succeeded on record without GranuleUR, want error")
		}
	})

	t.Run("non-existent dir", func(t *testing.T) {
		if _, err := ReadRecords(NewDiskStore(t.TempDir()), "no-such-dir"); err == nil {
			t.Errorf("ReadRecords() succeeded on missing dir, want error")
		}
	})
}

func TestMetadataFiles(t *testing.T) {
	st, _ := writeFiles(t, map[string]string{
		"granules/g1.xml":   "x",
		"granules/G2.JSON":  "x",
		"granules/g3.yml":   "x",
		"granules/notes.md": "x",
	})
	files, err := MetadataFiles(st, "granules")
	if err != nil {
		t.Fatalf("MetadataFiles() error = %v", err)
	}
	if len(files) != 2 {
		t.Errorf("MetadataFiles() = %v, want the two metadata files", files)
	}
}

func TestWriteRecord(t *testing.T) {
	st, dir := writeFiles(t, map[string]string{
		"granules/g1.xml": echo10Content,
	})
	records, err := ReadRecords(st, "granules")
	if err != nil {
		t.Fatalf("ReadRecords() error = %v", err)
	}
	rec := records[0]
	rec.Data = []byte("<Granule><GranuleUR>G-0001-PODAAC</GranuleUR></Granule>\n")
	if err := WriteRecord(st, rec); err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "granules", "g1.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(rec.Data) {
		t.Errorf("WriteRecord() wrote %q, want %q", got, rec.Data)
	}
}

func TestDiskStoreRejectsEscapingPaths(t *testing.T) {
	st := NewDiskStore(t.TempDir())
	if _, err := st.ReadFile("../outside.txt"); err == nil {
		t.Errorf("ReadFile(../outside.txt) succeeded, want error")
	}
	if err := st.WriteFile("../outside.txt", []byte("x")); err == nil {
		t.Errorf("WriteFile(../outside.txt) succeeded, want error")
	}
}
