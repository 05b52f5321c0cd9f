// Package report renders a batch report as canonical JSON.
//
// The serialized form is byte-stable: identical batch outcomes produce
// identical bytes regardless of worker interleaving, which makes reports
// diffable across re-runs. Nothing runtime-dependent (timestamps, worker
// ids, durations) is included.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/declare"
)

// Canonicalize sorts the report's results by path. BatchReport construction
// already sorts, but consumers handed a report from elsewhere must be able
// to rely on the ordering before encoding.
func Canonicalize(r *declare.BatchReport) {
	sort.Slice(r.Results, func(i, j int) bool { return r.Results[i].Path < r.Results[j].Path })
}

// Encode returns the canonical JSON bytes for a report.
func Encode(r *declare.BatchReport) ([]byte, error) {
	Canonicalize(r)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes the canonical report to path.
func WriteFile(path string, r *declare.BatchReport) error {
	b, err := Encode(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
