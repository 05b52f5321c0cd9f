package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/catalog"
)

// Run is the high-level entrypoint: parse, wire the real samweb client, and
// execute. Suitable for main and for black-box tests that accept the real
// adapter.
func Run(ctx context.Context, args []string) (Result, error) {
	return RunWithCatalog(ctx, args, os.Getenv, nil)
}

// RunWithCatalog is Run with an injectable catalog. A nil cat selects the
// samweb CLI adapter and verifies the vendor binary is present before any
// work starts.
func RunWithCatalog(ctx context.Context, args []string, lookupEnv func(string) string, cat catalog.Catalog) (Result, error) {
	inv, err := ParseInvocation(args, lookupEnv)
	if err != nil {
		return Result{ExitCode: ExitCode(err)}, err
	}

	log, closeLog, err := newLogger(inv)
	if err != nil {
		return Result{ExitCode: ExitInvalidInvocation}, err
	}
	defer closeLog()

	if cat == nil {
		samweb := catalog.NewSAMWeb(inv.Experiment, log)
		if err := samweb.Check(); err != nil {
			return Result{ExitCode: ExitInvalidInvocation}, invalidInvocationf("%v", err)
		}
		cat = samweb
	}

	return Execute(ctx, inv, cat, log)
}

func parseLevel(level string) (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid --log-level %q", level)
	}
	return lvl, nil
}

// newLogger builds the batch logger: console on stderr, plus an appended
// log file when configured.
func newLogger(inv Invocation) (zerolog.Logger, func(), error) {
	lvl, err := parseLevel(inv.LogLevel)
	if err != nil {
		return zerolog.Nop(), func() {}, invalidInvocationf("%v", err)
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	writer := zerolog.MultiLevelWriter(console)
	closeLog := func() {}

	if inv.LogFile != "" {
		f, err := os.OpenFile(inv.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closeLog, invalidInvocationf("opening log file: %v", err)
		}
		writer = zerolog.MultiLevelWriter(console, f)
		closeLog = func() { f.Close() }
	}

	log := zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
	return log, closeLog, nil
}
