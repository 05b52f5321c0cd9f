package declare

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/catalog"
)

func newTestSubmitter(cat catalog.Catalog, mutate func(*SubmitterConfig)) *Submitter {
	cfg := SubmitterConfig{
		Workers:        4,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		Log:            zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewSubmitter(cat, cfg)
}

func newTestBuilder(t *testing.T) *MetadataBuilder {
	t.Helper()
	builder, err := NewMetadataBuilder(BuilderConfig{
		Template: catalog.Metadata{"experiment": "sbnd"},
	})
	require.NoError(t, err)
	return builder
}

func makeBatch(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		writeFile(t, p, "content of "+n)
		paths = append(paths, p)
	}
	return paths
}

func TestRun_AllDeclared(t *testing.T) {
	fake := catalog.NewFake()
	paths := makeBatch(t, t.TempDir(), "a.root", "b.root", "c.root")

	report := newTestSubmitter(fake, nil).Run(context.Background(), newTestBuilder(t), "batch", paths)

	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, fake.DeclaredCount())

	md, ok := fake.Declared("a.root")
	require.True(t, ok)
	assert.Equal(t, "sbnd", md["experiment"])
	assert.NotEmpty(t, md["checksum"])
}

func TestRun_MixedUnreadableFiles(t *testing.T) {
	fake := catalog.NewFake()
	dir := t.TempDir()
	paths := makeBatch(t, dir, "ok1.root", "ok2.root")
	paths = append(paths, filepath.Join(dir, "gone1.root"), filepath.Join(dir, "gone2.root"))

	report := newTestSubmitter(fake, nil).Run(context.Background(), newTestBuilder(t), "batch", paths)

	assert.Equal(t, len(paths), report.Succeeded+report.Failed)
	assert.Equal(t, 2, report.Failed)

	var failedPaths []string
	for _, f := range report.Failures() {
		failedPaths = append(failedPaths, filepath.Base(f.Path))
	}
	assert.ElementsMatch(t, []string{"gone1.root", "gone2.root"}, failedPaths)
}

func TestRun_DuplicateIsSuccess(t *testing.T) {
	fake := catalog.NewFake()
	paths := makeBatch(t, t.TempDir(), "twice.root")
	builder := newTestBuilder(t)

	first := newTestSubmitter(fake, nil).Run(context.Background(), builder, "b1", paths)
	require.Equal(t, 1, first.Succeeded)
	firstSums := first.Results[0]

	second := newTestSubmitter(fake, nil).Run(context.Background(), builder, "b2", paths)
	require.Equal(t, 1, second.Succeeded)
	assert.Equal(t, 0, second.Failed)
	assert.Equal(t, 1, second.Duplicates)
	assert.True(t, second.Results[0].Duplicate)
	assert.True(t, second.Results[0].OK)

	// Checksums are deterministic, so the stored record still matches.
	md, ok := fake.Declared("twice.root")
	require.True(t, ok)
	assert.NotEmpty(t, firstSums.FileID)
	assert.NotEmpty(t, md["checksum"])
}

func TestRun_TransientErrorsRetriedThenRecover(t *testing.T) {
	fake := catalog.NewFake()
	failures := map[string]int{"flaky.root": 1}
	fake.DeclareHook = func(md catalog.Metadata) error {
		name, _ := md["file_name"].(string)
		if failures[name] > 0 {
			failures[name]--
			return &catalog.Error{Kind: catalog.ErrTransient, Op: "declare", Msg: "service unavailable"}
		}
		return nil
	}

	paths := makeBatch(t, t.TempDir(), "flaky.root", "steady.root")
	report := newTestSubmitter(fake, nil).Run(context.Background(), newTestBuilder(t), "batch", paths)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	for _, res := range report.Results {
		if filepath.Base(res.Path) == "flaky.root" {
			assert.Equal(t, 2, res.Attempts)
		}
	}
}

func TestRun_TransientExhaustionIsPermanentFailure(t *testing.T) {
	fake := catalog.NewFake()
	fake.DeclareHook = func(md catalog.Metadata) error {
		return &catalog.Error{Kind: catalog.ErrTransient, Op: "declare", Msg: "connection reset"}
	}

	paths := makeBatch(t, t.TempDir(), "down.root")
	report := newTestSubmitter(fake, nil).Run(context.Background(), newTestBuilder(t), "batch", paths)

	require.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, report.Results[0].Attempts)
	assert.Contains(t, report.Results[0].Error, "connection reset")
}

func TestRun_ValidationErrorNotRetried(t *testing.T) {
	fake := catalog.NewFake()
	fake.DeclareHook = func(md catalog.Metadata) error {
		if md["file_name"] == "bad.root" {
			return &catalog.Error{Kind: catalog.ErrInvalidMetadata, Op: "declare", Msg: "missing data_tier"}
		}
		return nil
	}

	paths := makeBatch(t, t.TempDir(), "bad.root", "good.root")
	report := newTestSubmitter(fake, nil).Run(context.Background(), newTestBuilder(t), "batch", paths)

	require.Equal(t, 1, report.Failed)
	for _, res := range report.Results {
		if filepath.Base(res.Path) == "bad.root" {
			assert.False(t, res.OK)
			assert.Equal(t, 1, res.Attempts)
			assert.Contains(t, res.Error, "missing data_tier")
		}
	}
}

// Ten files; the catalog rejects two with a transient error that clears
// after one retry and one with a validation error.
func TestRun_MixedTransientAndValidationScenario(t *testing.T) {
	fake := catalog.NewFake()
	transients := map[string]int{"f03.root": 1, "f07.root": 1}
	fake.DeclareHook = func(md catalog.Metadata) error {
		name, _ := md["file_name"].(string)
		if transients[name] > 0 {
			transients[name]--
			return &catalog.Error{Kind: catalog.ErrTransient, Op: "declare", Msg: "503"}
		}
		if name == "f05.root" {
			return &catalog.Error{Kind: catalog.ErrInvalidMetadata, Op: "declare", Msg: "rejected"}
		}
		return nil
	}

	names := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		names = append(names, fmt.Sprintf("f0%d.root", i))
	}
	paths := makeBatch(t, t.TempDir(), names...)

	report := newTestSubmitter(fake, nil).Run(context.Background(), newTestBuilder(t), "batch", paths)

	assert.Equal(t, 10, report.Attempted)
	assert.Equal(t, 9, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "f05.root", filepath.Base(report.Failures()[0].Path))
}

func TestRun_DryRunMakesNoCatalogCalls(t *testing.T) {
	fake := catalog.NewFake()
	paths := makeBatch(t, t.TempDir(), "a.root", "b.root")

	report := newTestSubmitter(fake, func(cfg *SubmitterConfig) { cfg.DryRun = true }).
		Run(context.Background(), newTestBuilder(t), "batch", paths)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, fake.TotalCalls())
}

func TestRun_ValidateAndLocation(t *testing.T) {
	fake := catalog.NewFake()
	paths := makeBatch(t, t.TempDir(), "loc.root")

	report := newTestSubmitter(fake, func(cfg *SubmitterConfig) {
		cfg.Validate = true
		cfg.Location = "/pnfs/sbnd/archive"
	}).Run(context.Background(), newTestBuilder(t), "batch", paths)

	require.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, fake.Calls("validate"))
	assert.Equal(t, []string{"/pnfs/sbnd/archive"}, fake.Locations("loc.root"))
}

func TestRun_CancellationAccountsForEveryTask(t *testing.T) {
	fake := catalog.NewFake()
	paths := makeBatch(t, t.TempDir(), "a.root", "b.root", "c.root")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := newTestSubmitter(fake, nil).Run(ctx, newTestBuilder(t), "batch", paths)

	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Succeeded+report.Failed)
	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 0, fake.TotalCalls())
}

func TestRun_ZeroByteFile(t *testing.T) {
	fake := catalog.NewFake()
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.root")
	writeFile(t, path, "")

	report := newTestSubmitter(fake, nil).Run(context.Background(), newTestBuilder(t), "batch", []string{path})

	require.Equal(t, 1, report.Succeeded)
	md, ok := fake.Declared("empty.root")
	require.True(t, ok)
	assert.Equal(t, int64(0), md["file_size"])
	assert.Contains(t, md["checksum"], "adler32:00000001")
}
