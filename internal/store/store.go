package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/gitclient"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/granule"
)

var (
	ErrReadOnly  = errors.New("store is read-only")
	ErrNoSuchRef = errors.New("no such ref")
)

// Source is the abstraction over different types of storage layers,
// in particular local disk (non-versioned) and a Git repo (read-only).
type Source interface {
	// Refresh updates the internal state of the source (e.g., via git fetch).
	// For a disk store, this might be a no-op.
	Refresh() error
	// Store returns a handle to a store at the given ref.
	// For non-versioned disk-based stores, ref must be "".
	Store(ref string) (Store, error)
}

// Store is a minimal abstraction to list, read, and write files.
// It is the common interface for disk-based and git-repo-based stores.
type Store interface {
	// ListFiles lists all files in dir (recursively).
	// The resulting paths will all be relative to the store's root directory,
	// so they can be passed to ReadFile and WriteFile unmodified.
	ListFiles(dir string) ([]string, error)
	// ReadFile reads the contents of path from the store.
	// path should be a relative path (e.g., "granules/g1.xml").
	// If the file does not exist, the returned error wraps fs.ErrNotExist.
	ReadFile(path string) ([]byte, error)
	// WriteFile write the given contents to path in the store.
	// Stores that do not support writing should return ErrReadOnly.
	WriteFile(path string, contents []byte) error
}

// DiskStore is an implementation of Source and Store that reads files from the local file system.
type DiskStore struct {
	rootDir string // Root path of the metadata archive
}

// Asserts that DiskStore implements both Source and Store.
var _ Source = (*DiskStore)(nil)
var _ Store = (*DiskStore)(nil)

func NewDiskStore(rootDir string) *DiskStore {
	return &DiskStore{
		rootDir: rootDir,
	}
}

func (d *DiskStore) Refresh() error {
	// Nothing to do for a disk-based store.
	return nil
}

func (d *DiskStore) Store(ref string) (Store, error) {
	if ref != "" {
		return nil, fmt.Errorf("invalid ref %q: %w", ref, ErrNoSuchRef)
	}
	return d, nil
}

func (d *DiskStore) ListFiles(dir string) ([]string, error) {
	return listFilesRecursively(d.rootDir, dir)
}

func resolveRelPath(root, subpath string) (string, error) {
	fullPath := filepath.Join(root, subpath)

	// Verify ancestry by calculating the relative path from the root.
	rel, err := filepath.Rel(root, fullPath)
	if err != nil {
		return "", fmt.Errorf("not a relative path: %v", err) // e.g. paths on different volumes
	}

	// A relative path escaping the root will start with ".."
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes root directory", subpath)
	}

	return fullPath, nil
}

func (d *DiskStore) ReadFile(path string) ([]byte, error) {
	fullPath, err := resolveRelPath(d.rootDir, path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(fullPath)
}

func (d *DiskStore) WriteFile(path string, contents []byte) error {
	fullPath, err := resolveRelPath(d.rootDir, path)
	if err != nil {
		return err
	}
	return os.WriteFile(fullPath, contents, 0644)
}

// GitSource is an implementation of Source that reads from a remote Git repository.
type GitSource struct {
	client     *gitclient.Client
	defaultRef string   // ref to use if the empty ref ("") is requested
	rootDir    string   // optional subdirectory of the repository to treat as the store root
	refs       []string // cached list of available references
}

// gitStore is a "view" over a single revision in a GitSource.
type gitStore struct {
	client  *gitclient.Client
	ref     string
	rootDir string
}

var _ Source = (*GitSource)(nil)
var _ Store = (*gitStore)(nil)

func NewGitSource(client *gitclient.Client, defaultRef, rootDir string) *GitSource {
	return &GitSource{
		client:     client,
		defaultRef: defaultRef,
		rootDir:    rootDir,
	}
}

func (g *GitSource) DefaultRef() string {
	return g.defaultRef
}

func (g *GitSource) Refresh() error {
	g.refs = nil
	return g.client.Update()
}

func (g *GitSource) Store(ref string) (Store, error) {
	if ref == "" {
		ref = g.defaultRef
	}
	refs, err := g.ListReferences()
	if err != nil {
		return nil, fmt.Errorf("cannot list references: %v", err)
	}
	if !slices.Contains(refs, ref) {
		return nil, ErrNoSuchRef
	}
	return &gitStore{
		client:  g.client,
		ref:     ref,
		rootDir: g.rootDir,
	}, nil
}

func (g *GitSource) ListReferences() ([]string, error) {
	if g.refs != nil {
		return g.refs, nil
	}
	refs, err := g.client.ListReferences()
	if err != nil {
		return nil, err
	}
	slices.Sort(refs)
	g.refs = refs
	return refs, nil
}

func (g *gitStore) ListFiles(dir string) ([]string, error) {
	// Avoid using filepath here, as gitStore needs "/" on any OS.
	files, err := g.client.ListFilesRecursive(g.ref, path.Join(g.rootDir, dir))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %v", err)
	}
	// Make relative to gitStore root.
	result := make([]string, len(files))
	for i, f := range files {
		result[i] = path.Join(dir, f)
	}
	return result, nil
}

func (g *gitStore) ReadFile(p string) ([]byte, error) {
	bs, err := g.client.ReadFile(g.ref, path.Join(g.rootDir, p))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			// Normalize, so callers can treat all stores alike.
			return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
		}
		return nil, err
	}
	return bs, nil
}

func (g *gitStore) WriteFile(path string, contents []byte) error {
	return ErrReadOnly
}

// MetadataFiles lists all granule metadata files (*.xml, *.json) under
// root, which must be a relative path (relative to the store's root).
func MetadataFiles(st Store, root string) ([]string, error) {
	allFiles, err := st.ListFiles(root)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, f := range allFiles {
		lower := strings.ToLower(f)
		if strings.HasSuffix(lower, ".xml") || strings.HasSuffix(lower, ".json") {
			result = append(result, f)
		}
	}
	return result, nil
}

// ReadRecords reads and parses all granule metadata files under root.
func ReadRecords(st Store, root string) ([]*granule.Record, error) {
	files, err := MetadataFiles(st, root)
	if err != nil {
		return nil, err
	}
	records := make([]*granule.Record, 0, len(files))
	for _, f := range files {
		bs, err := st.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata file %s: %v", f, err)
		}
		rec, err := granule.Parse(f, bs)
		if err != nil {
			return nil, fmt.Errorf("error in metadata file %s: %v", f, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// WriteRecord writes a record back to the file it was read from.
func WriteRecord(st Store, rec *granule.Record) error {
	// Only disk-based stores can currently be modified.
	if _, ok := st.(*DiskStore); !ok {
		return fmt.Errorf("cannot update records in store of type %T", st)
	}
	if err := st.WriteFile(rec.Path, rec.Data); err != nil {
		return fmt.Errorf("failed to write metadata file %s: %v", rec.Path, err)
	}
	return nil
}

// listFilesRecursively lists all files in subDir, which must
// be a relative path specifying a sub-directory of rootDir.
// The resulting paths will all be relative to rootDir.
//
// Example:
// with rootDir "/foo/bar" and subDir "baz/quz", all files under
// "/foo/bar/baz/quz" will be returned, relative to "/foo/bar", such as
// ["baz/quz/yankee.xml"].
func listFilesRecursively(rootDir, subDir string) ([]string, error) {
	var files []string

	startDir := filepath.Join(rootDir, subDir)
	err := filepath.WalkDir(startDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Handle errors accessing a path (e.g. permission denied)
			return err
		}

		// If it's a directory, we just continue (it will automatically recurse)
		if d.IsDir() {
			return nil
		}

		// Add the relative file path to our list
		relPath, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}

		files = append(files, relPath)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}
