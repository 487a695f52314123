package repo

import (
	"cmp"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/granule"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/query"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/store"
)

// ErrNoSuchGranule is returned for lookups of granule URs not in the repository.
var ErrNoSuchGranule = errors.New("no such granule")

// Repository is an in-memory index of granule metadata records.
// Mutating operations return a new repository and leave the receiver
// unchanged, so a handle to it can be swapped atomically under a lock.
type Repository struct {
	// granules maps the GranuleUR to the record.
	granules map[string]*granule.Record
	// collections maps the collection name to the URs of its granules.
	collections map[string][]string

	cloudHosts links.HostMatcher
}

func NewRepository(cloudHosts links.HostMatcher) *Repository {
	if cloudHosts == nil {
		cloudHosts = links.DefaultCloudHosts
	}
	return &Repository{
		granules:    make(map[string]*granule.Record),
		collections: make(map[string][]string),
		cloudHosts:  cloudHosts,
	}
}

// cloneEmpty returns a copy of r with all maps empty, but the host matcher preserved.
func (r *Repository) cloneEmpty() *Repository {
	return NewRepository(r.cloudHosts)
}

func (r *Repository) Size() int {
	return len(r.granules)
}

func (r *Repository) CloudHosts() links.HostMatcher {
	return r.cloudHosts
}

// AddRecord adds a record to the repository *during construction*.
// Granule URs must be unique across the whole archive.
func (r *Repository) AddRecord(rec *granule.Record) error {
	if rec.UR == "" {
		return fmt.Errorf("record %s has no GranuleUR", rec.Path)
	}
	if old, ok := r.granules[rec.UR]; ok {
		return fmt.Errorf("duplicate granule %q (%s and %s)", rec.UR, old.Path, rec.Path)
	}
	r.granules[rec.UR] = rec
	r.collections[rec.Collection] = append(r.collections[rec.Collection], rec.UR)
	return nil
}

// Granule returns the record with the given UR, or nil.
func (r *Repository) Granule(ur string) *granule.Record {
	return r.granules[ur]
}

// Granules returns all records, sorted by UR.
func (r *Repository) Granules() []*granule.Record {
	result := make([]*granule.Record, 0, len(r.granules))
	for _, rec := range r.granules {
		result = append(result, rec)
	}
	slices.SortFunc(result, func(a, b *granule.Record) int {
		return cmp.Compare(a.UR, b.UR)
	})
	return result
}

// Collections returns all collection names, sorted. Records without a
// collection reference are grouped under the empty name.
func (r *Repository) Collections() []string {
	result := make([]string, 0, len(r.collections))
	for name := range r.collections {
		result = append(result, name)
	}
	slices.Sort(result)
	return result
}

// GranulesInCollection returns the records of one collection, sorted by UR.
func (r *Repository) GranulesInCollection(name string) []*granule.Record {
	urs := r.collections[name]
	result := make([]*granule.Record, 0, len(urs))
	for _, ur := range urs {
		result = append(result, r.granules[ur])
	}
	slices.SortFunc(result, func(a, b *granule.Record) int {
		return cmp.Compare(a.UR, b.UR)
	})
	return result
}

// ApplyLinkUpdate merges set into the links of the granule with the given UR
// and returns the new repository together with the updated record.
//
// This method uses a fairly heavyweight, but effective approach:
// rebuild the repository from scratch (as a copy) with the updated record.
// The repository r remains unchanged in any case.
func (r *Repository) ApplyLinkUpdate(ur string, set *links.UpdateSet) (*Repository, *granule.Record, error) {
	rec := r.granules[ur]
	if rec == nil {
		return nil, nil, fmt.Errorf("granule %q: %w", ur, ErrNoSuchGranule)
	}
	updated, err := rec.ApplyLinks(set, r.cloudHosts)
	if err != nil {
		return nil, nil, err
	}
	r2 := r.cloneEmpty()
	for _, n := range r.granules {
		toAdd := n
		if n.UR == ur {
			toAdd = updated
		}
		if err := r2.AddRecord(toAdd); err != nil {
			return nil, nil, fmt.Errorf("failed to rebuild repository: %v", err)
		}
	}
	return r2, updated, nil
}

// Find returns the records matching the given filter expression, sorted by
// UR. An empty expression matches everything.
func (r *Repository) Find(filterExpr string) ([]*granule.Record, error) {
	if strings.TrimSpace(filterExpr) == "" {
		return r.Granules(), nil
	}
	flt, err := query.Compile(filterExpr)
	if err != nil {
		return nil, err
	}
	var result []*granule.Record
	for _, rec := range r.granules {
		ok, err := flt.Matches(rec, r.cloudHosts)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, rec)
		}
	}
	slices.SortFunc(result, func(a, b *granule.Record) int {
		return cmp.Compare(a.UR, b.UR)
	})
	return result, nil
}

// Load reads all granule metadata records under metadataDir from the store
// and returns an indexed repository.
func Load(st store.Store, cloudHosts links.HostMatcher, metadataDir string) (*Repository, error) {
	repo := NewRepository(cloudHosts)
	records, err := store.ReadRecords(st, metadataDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read metadata records: %v", err)
	}
	log.Printf("Read %d metadata records from %s", len(records), metadataDir)
	for _, rec := range records {
		if err := repo.AddRecord(rec); err != nil {
			return nil, err
		}
	}
	return repo, nil
}
