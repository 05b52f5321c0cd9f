package cli_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/catalog"
	icl "github.com/SBN-ALCF/sam-globus-keepup/internal/cli"
	"github.com/SBN-ALCF/sam-globus-keepup/internal/declare"
)

func noEnv(string) string { return "" }

func run(t *testing.T, fake *catalog.Fake, args ...string) (icl.Result, error) {
	t.Helper()
	quiet := append([]string{"--log-level", "error"}, args...)
	return icl.RunWithCatalog(context.Background(), quiet, noEnv, fake)
}

func TestRun_NonexistentPath_NoCatalogCalls(t *testing.T) {
	fake := catalog.NewFake()

	res, err := run(t, fake, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, icl.ExitInvalidInvocation, res.ExitCode)
	assert.Equal(t, 0, fake.TotalCalls())
}

func TestRun_ZeroByteFile(t *testing.T) {
	fake := catalog.NewFake()
	path := filepath.Join(t.TempDir(), "empty.root")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	res, err := run(t, fake, path)
	require.NoError(t, err)
	assert.Equal(t, icl.ExitSuccess, res.ExitCode)

	md, ok := fake.Declared("empty.root")
	require.True(t, ok)
	assert.Equal(t, int64(0), md["file_size"])
	assert.Contains(t, md["checksum"], "adler32:00000001")
	assert.Contains(t, md["checksum"], "enstore:0")
}

func TestRun_DirectoryWithTemplateAndReport(t *testing.T) {
	fake := catalog.NewFake()
	dir := t.TempDir()
	for _, name := range []string{"a.root", "b.root"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	templatePath := filepath.Join(dir, "template.json")
	require.NoError(t, os.WriteFile(templatePath,
		[]byte(`{"experiment": "sbnd", "file_type": "data"}`), 0o644))
	reportPath := filepath.Join(t.TempDir(), "report.json")

	res, err := run(t, fake,
		"--metadata-template", templatePath,
		"--report", reportPath,
		dir)
	require.NoError(t, err)
	assert.Equal(t, icl.ExitSuccess, res.ExitCode)

	// The template is a sibling of the data files, so it was declared too:
	// three files total, all carrying the batch metadata.
	assert.Equal(t, 3, fake.DeclaredCount())
	md, ok := fake.Declared("a.root")
	require.True(t, ok)
	assert.Equal(t, "sbnd", md["experiment"])
	assert.Equal(t, "data", md["file_type"])

	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var batch declare.BatchReport
	require.NoError(t, json.Unmarshal(raw, &batch))
	assert.Equal(t, 3, batch.Attempted)
	assert.Equal(t, 3, batch.Succeeded)
	assert.Equal(t, res.Report.BatchID, batch.BatchID)
}

func TestRun_RedeclareIsDuplicateSuccess(t *testing.T) {
	fake := catalog.NewFake()
	path := filepath.Join(t.TempDir(), "run1.root")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	res, err := run(t, fake, path)
	require.NoError(t, err)
	require.Equal(t, icl.ExitSuccess, res.ExitCode)

	res, err = run(t, fake, path)
	require.NoError(t, err)
	assert.Equal(t, icl.ExitSuccess, res.ExitCode)
	assert.Equal(t, 1, res.Report.Duplicates)
}

func TestRun_PartialFailureExitCode(t *testing.T) {
	fake := catalog.NewFake()
	fake.DeclareHook = func(md catalog.Metadata) error {
		if md["file_name"] == "bad.root" {
			return &catalog.Error{Kind: catalog.ErrInvalidMetadata, Op: "declare", Msg: "rejected"}
		}
		return nil
	}

	dir := t.TempDir()
	for _, name := range []string{"bad.root", "good.root"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	res, err := run(t, fake, dir)
	require.NoError(t, err)
	assert.Equal(t, icl.ExitPartialFailure, res.ExitCode)
	assert.Equal(t, 1, res.Report.Failed)
	assert.Equal(t, 1, res.Report.Succeeded)
}

func TestRun_SidecarMode(t *testing.T) {
	fake := catalog.NewFake()
	dir := t.TempDir()
	data := filepath.Join(dir, "reco2.root")
	require.NoError(t, os.WriteFile(data, []byte("payload"), 0o644))
	require.NoError(t, os.WriteFile(data+".json",
		[]byte(`{"data_tier": "reconstructed"}`), 0o644))

	res, err := run(t, fake, "--sidecar", dir)
	require.NoError(t, err)
	assert.Equal(t, icl.ExitSuccess, res.ExitCode)

	// Only the data file is declared; the sidecar feeds its metadata.
	assert.Equal(t, 1, fake.DeclaredCount())
	md, ok := fake.Declared("reco2.root")
	require.True(t, ok)
	assert.Equal(t, "reconstructed", md["data_tier"])
}

func TestRun_InvalidFlagsExitTwo(t *testing.T) {
	fake := catalog.NewFake()
	res, err := icl.RunWithCatalog(context.Background(),
		[]string{"--checksum-algo", "crc64", "/data"}, noEnv, fake)
	require.Error(t, err)
	assert.Equal(t, icl.ExitInvalidInvocation, res.ExitCode)
	assert.Equal(t, 0, fake.TotalCalls())
}
