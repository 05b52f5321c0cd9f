package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// SAMWeb shells out to the vendor `samweb` command-line client.
//
// The adapter owns no connection state; every call is one subprocess. Error
// classification is based on the client's stderr text, which is the only
// signal the CLI exposes.
type SAMWeb struct {
	// Binary is the samweb executable. Defaults to "samweb" on PATH.
	Binary string

	// Experiment is passed as --experiment on every invocation when set.
	Experiment string

	Log zerolog.Logger
}

// NewSAMWeb returns an adapter for the samweb CLI.
func NewSAMWeb(experiment string, log zerolog.Logger) *SAMWeb {
	return &SAMWeb{Binary: "samweb", Experiment: experiment, Log: log}
}

// Check verifies the vendor client is runnable. Called once before any work
// so a missing binary aborts the whole invocation rather than failing every
// file.
func (c *SAMWeb) Check() error {
	bin := c.binary()
	if _, err := exec.LookPath(bin); err != nil {
		return errf(ErrUnavailable, "check", "%q not found in PATH", bin)
	}
	return nil
}

func (c *SAMWeb) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return "samweb"
}

func (c *SAMWeb) run(ctx context.Context, op string, args ...string) (string, error) {
	argv := make([]string, 0, len(args)+2)
	if c.Experiment != "" {
		argv = append(argv, "--experiment="+c.Experiment)
	}
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, c.binary(), argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.Log.Trace().Str("op", op).Strs("args", argv).Msg("samweb call")

	err := cmd.Run()
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", classify(op, stderr.String(), err)
}

// classify maps samweb CLI failures onto the error taxonomy. The samweb
// client prints its exception name and message on stderr
// (e.g. "FileAlreadyExistsError: File abc.root already exists").
func classify(op, stderr string, err error) error {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	}
	lower := strings.ToLower(detail)

	switch {
	case strings.Contains(lower, "already exist"):
		return errf(ErrDuplicate, op, "%s", detail)
	case strings.Contains(lower, "invalid metadata"),
		strings.Contains(lower, "metadata is invalid"),
		strings.Contains(lower, "invalidmetadata"):
		return errf(ErrInvalidMetadata, op, "%s", detail)
	case strings.Contains(lower, "definitionnotfound"),
		strings.Contains(lower, "no such definition"):
		return errf(ErrDefinitionNotFound, op, "%s", detail)
	case strings.Contains(lower, "command not found"),
		strings.Contains(lower, "executable file not found"):
		return errf(ErrUnavailable, op, "%s", detail)
	default:
		// Connection resets, HTTP 5xx, timeouts and anything else the
		// client does not name explicitly.
		return errf(ErrTransient, op, "%s", detail)
	}
}

// Declare writes the record to a temp file and runs `samweb declare-file`.
func (c *SAMWeb) Declare(ctx context.Context, md Metadata) (FileID, error) {
	name, _ := md["file_name"].(string)

	tmp, err := writeMetadataFile(md)
	if err != nil {
		return "", errf(ErrInvalidMetadata, "declare", "encoding metadata for %s: %v", name, err)
	}
	defer os.Remove(tmp)

	out, err := c.run(ctx, "declare", "declare-file", tmp)
	if err != nil {
		return "", err
	}
	// Recent samweb versions print the assigned file id; older ones print
	// nothing. Fall back to the file name as the identifier.
	if id := strings.TrimSpace(out); id != "" {
		return FileID(id), nil
	}
	return FileID(name), nil
}

// ValidateMetadata runs `samweb validate-metadata` against a temp file.
func (c *SAMWeb) ValidateMetadata(ctx context.Context, md Metadata) error {
	tmp, err := writeMetadataFile(md)
	if err != nil {
		return errf(ErrInvalidMetadata, "validate", "encoding metadata: %v", err)
	}
	defer os.Remove(tmp)

	_, err = c.run(ctx, "validate", "validate-metadata", tmp)
	return err
}

// AddFileLocation runs `samweb add-file-location`.
func (c *SAMWeb) AddFileLocation(ctx context.Context, fileName, location string) error {
	_, err := c.run(ctx, "add-location", "add-file-location", fileName, location)
	return err
}

// DescribeDefinition reports whether a definition exists.
func (c *SAMWeb) DescribeDefinition(ctx context.Context, name string) (bool, error) {
	_, err := c.run(ctx, "describe-definition", "describe-definition", name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrDefinitionNotFound) {
		return false, nil
	}
	return false, err
}

// TakeSnapshot freezes a definition and returns the snapshot id.
func (c *SAMWeb) TakeSnapshot(ctx context.Context, definition string) (int64, error) {
	out, err := c.run(ctx, "take-snapshot", "take-snapshot", definition)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, errf(ErrTransient, "take-snapshot", "unparseable snapshot id %q", out)
	}
	return id, nil
}

// CountFiles counts files matching a dimensions constraint.
func (c *SAMWeb) CountFiles(ctx context.Context, dims string) (int, error) {
	out, err := c.run(ctx, "count-files", "count-files", dims)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, errf(ErrTransient, "count-files", "unparseable count %q", out)
	}
	return n, nil
}

// ListFiles lists file names matching a dimensions constraint.
func (c *SAMWeb) ListFiles(ctx context.Context, dims string) ([]string, error) {
	out, err := c.run(ctx, "list-files", "list-files", dims)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// GetFileAccessURL resolves access URLs for a file under a schema.
func (c *SAMWeb) GetFileAccessURL(ctx context.Context, fileName, schema string) ([]string, error) {
	out, err := c.run(ctx, "get-url", "get-file-access-url", "--schema="+schema, fileName)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			urls = append(urls, line)
		}
	}
	return urls, nil
}

func writeMetadataFile(md Metadata) (string, error) {
	b, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "samdeclare-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

var _ Catalog = (*SAMWeb)(nil)
