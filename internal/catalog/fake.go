package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Fake is an in-memory Catalog for tests. It is safe for concurrent use.
//
// Behavior hooks let tests script per-file failures without reimplementing
// the duplicate bookkeeping.
type Fake struct {
	mu sync.Mutex

	declared  map[string]Metadata
	locations map[string][]string
	defs      map[string]string // definition name -> dims
	snapshots int64
	nextID    int

	// DeclareHook, when set, runs before the default declare behavior.
	// Returning a non-nil error makes Declare fail with that error.
	DeclareHook func(md Metadata) error

	// ValidateHook, when set, implements ValidateMetadata.
	ValidateHook func(md Metadata) error

	calls map[string]int
}

// NewFake returns an empty in-memory catalog.
func NewFake() *Fake {
	return &Fake{
		declared:  make(map[string]Metadata),
		locations: make(map[string][]string),
		defs:      make(map[string]string),
		calls:     make(map[string]int),
	}
}

func (f *Fake) record(op string) {
	f.calls[op]++
}

// Calls reports how many times an operation was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls reports the total number of catalog invocations.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Declared returns the stored metadata for a file name, if any.
func (f *Fake) Declared(name string) (Metadata, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, ok := f.declared[name]
	return md, ok
}

// DeclaredCount returns the number of files in the catalog.
func (f *Fake) DeclaredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.declared)
}

// Locations returns the registered locations for a file.
func (f *Fake) Locations(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.locations[name]...)
}

func (f *Fake) Declare(ctx context.Context, md Metadata) (FileID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("declare")

	if f.DeclareHook != nil {
		if err := f.DeclareHook(md); err != nil {
			return "", err
		}
	}

	name, ok := md["file_name"].(string)
	if !ok || name == "" {
		return "", errf(ErrInvalidMetadata, "declare", "missing file_name")
	}
	if _, exists := f.declared[name]; exists {
		return "", errf(ErrDuplicate, "declare", "file %s already exists", name)
	}

	f.nextID++
	clone := make(Metadata, len(md))
	for k, v := range md {
		clone[k] = v
	}
	f.declared[name] = clone
	return FileID(fmt.Sprintf("%d", f.nextID)), nil
}

func (f *Fake) ValidateMetadata(ctx context.Context, md Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("validate")

	if f.ValidateHook != nil {
		return f.ValidateHook(md)
	}
	if name, ok := md["file_name"].(string); !ok || name == "" {
		return errf(ErrInvalidMetadata, "validate", "missing file_name")
	}
	return nil
}

func (f *Fake) AddFileLocation(ctx context.Context, fileName, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("add-location")

	if _, ok := f.declared[fileName]; !ok {
		return errf(ErrInvalidMetadata, "add-location", "file %s not declared", fileName)
	}
	f.locations[fileName] = append(f.locations[fileName], location)
	return nil
}

// CreateDefinition registers a dataset definition for later queries.
func (f *Fake) CreateDefinition(name, dims string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defs[name] = dims
}

func (f *Fake) DescribeDefinition(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("describe-definition")
	_, ok := f.defs[name]
	return ok, nil
}

func (f *Fake) TakeSnapshot(ctx context.Context, definition string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("take-snapshot")
	if _, ok := f.defs[definition]; !ok {
		return 0, errf(ErrDefinitionNotFound, "take-snapshot", "%s", definition)
	}
	f.snapshots++
	return f.snapshots, nil
}

func (f *Fake) CountFiles(ctx context.Context, dims string) (int, error) {
	names, err := f.ListFiles(ctx, dims)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// ListFiles matches file names by substring against the dims constraint,
// which is enough fidelity for tests. An empty constraint matches all files.
func (f *Fake) ListFiles(ctx context.Context, dims string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list-files")

	var names []string
	for name := range f.declared {
		if dims == "" || strings.Contains(name, dims) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) GetFileAccessURL(ctx context.Context, fileName, schema string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get-url")

	locs, ok := f.locations[fileName]
	if !ok || len(locs) == 0 {
		return nil, nil
	}
	urls := make([]string, 0, len(locs))
	for _, loc := range locs {
		urls = append(urls, fmt.Sprintf("%s://%s/%s", schema, strings.TrimPrefix(loc, "/"), fileName))
	}
	return urls, nil
}

var _ Catalog = (*Fake)(nil)
