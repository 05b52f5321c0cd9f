package cli

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/catalog"
	"github.com/SBN-ALCF/sam-globus-keepup/internal/declare"
	"github.com/SBN-ALCF/sam-globus-keepup/internal/report"
)

// Result is the outcome of one invocation.
type Result struct {
	ExitCode int
	Report   *declare.BatchReport
}

// Execute maps a canonical Invocation to a pipeline run against cat.
//
// Responsibilities:
//   - Load the batch metadata template and stamp the experiment into it.
//   - Enumerate candidates; a bad top-level path aborts before any catalog
//     call with ExitInvalidInvocation.
//   - Run the build/submit pipeline to the end-of-batch barrier.
//   - Write the canonical report when requested.
//   - Translate the batch outcome to a semantic exit code.
func Execute(ctx context.Context, inv Invocation, cat catalog.Catalog, log zerolog.Logger) (Result, error) {
	template := catalog.Metadata{}
	if inv.MetadataTemplate != "" {
		loaded, err := declare.LoadTemplate(inv.MetadataTemplate)
		if err != nil {
			return Result{ExitCode: ExitInvalidInvocation}, invalidInvocationf("%v", err)
		}
		template = loaded
	}
	if inv.Experiment != "" {
		if _, ok := template["experiment"]; !ok {
			template["experiment"] = inv.Experiment
		}
	}

	paths, err := declare.Enumerate(inv.Path, declare.EnumerateOptions{
		Recursive:    inv.Recursive,
		SkipSidecars: inv.Sidecar,
	})
	if err != nil {
		if errors.Is(err, declare.ErrInvalidInput) {
			return Result{ExitCode: ExitInvalidInvocation}, invalidInvocationf("%v", err)
		}
		return Result{ExitCode: ExitInternalError}, err
	}

	builder, err := declare.NewMetadataBuilder(declare.BuilderConfig{
		Template:   template,
		Algorithms: inv.Algorithms,
		Sidecar:    inv.Sidecar,
	})
	if err != nil {
		return Result{ExitCode: ExitInvalidInvocation}, invalidInvocationf("%v", err)
	}

	batchID := uuid.NewString()
	log = log.With().Str("batch_id", batchID).Logger()
	log.Info().Int("files", len(paths)).Str("path", inv.Path).Msg("starting batch")
	start := time.Now()

	submitter := declare.NewSubmitter(cat, declare.SubmitterConfig{
		Workers:     inv.Workers,
		MaxAttempts: inv.Retries,
		RateLimit:   inv.RateLimit,
		Validate:    inv.Validate,
		Location:    inv.Location,
		DryRun:      inv.DryRun,
		Log:         log,
	})

	batch := submitter.Run(ctx, builder, batchID, paths)

	log.Info().
		Int("attempted", batch.Attempted).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Int("duplicates", batch.Duplicates).
		Dur("elapsed", time.Since(start)).
		Msg("batch finished")
	for _, f := range batch.Failures() {
		log.Error().Object("result", f).Msg("permanent failure")
	}

	if inv.ReportPath != "" {
		if err := report.WriteFile(inv.ReportPath, batch); err != nil {
			return Result{ExitCode: ExitInternalError, Report: batch}, err
		}
	}

	code := ExitSuccess
	if batch.Failed > 0 {
		code = ExitPartialFailure
	}
	return Result{ExitCode: code, Report: batch}, nil
}
