package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"roadtest/internal/logging"
	"roadtest/internal/types"
)

// IngestResult summarizes one ingest pass.
type IngestResult struct {
	File     string `json:"file"`
	Cases    int    `json:"cases"`
	Skipped  bool   `json:"skipped"` // unchanged content hash
	Error    string `json:"error,omitempty"`
	Duration time.Duration
}

// IngestFile parses a spreadsheet of test cases and indexes them. Ingestion
// is idempotent by file content hash: a file whose hash is unchanged is not
// reindexed.
func (x *TestCaseIndex) IngestFile(ctx context.Context, path string) (IngestResult, error) {
	log := logging.Get(logging.CategoryKnowledge)
	start := time.Now()
	res := IngestResult{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("failed to read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	prev, err := x.fileHash(path)
	if err != nil {
		return res, err
	}
	if prev == hash {
		res.Skipped = true
		res.Duration = time.Since(start)
		log.Debugw("ingest skipped, content unchanged", "file", path)
		return res, nil
	}

	cases, err := parseWorkbook(path)
	if err != nil {
		return res, err
	}
	for _, tc := range cases {
		if err := x.Upsert(ctx, tc); err != nil {
			return res, fmt.Errorf("failed to index %s: %w", tc.ID, err)
		}
		res.Cases++
	}
	if err := x.recordFileHash(path, hash); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	log.Infow("ingested test cases", "file", path, "cases", res.Cases)
	return res, nil
}

// IngestDir ingests every .xlsx file under dir. Files are parsed
// concurrently; index writes stay serialized inside Upsert.
func (x *TestCaseIndex) IngestDir(ctx context.Context, dir string) ([]IngestResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".xlsx") &&
			!strings.HasPrefix(e.Name(), "~$") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}

	results := make([]IngestResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range paths {
		g.Go(func() error {
			res, err := x.IngestFile(gctx, p)
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil // one bad file must not abort the pass
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// parseWorkbook reads test cases from the first sheet. The header row names
// the columns (case-insensitive): id, title, component, steps, description,
// expected. Steps are split on newlines or semicolons.
func parseWorkbook(path string) ([]types.TestCase, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("workbook has no data rows")
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idCol, ok := col["id"]
	if !ok {
		return nil, fmt.Errorf("workbook missing 'id' column")
	}
	stepsCol, ok := col["steps"]
	if !ok {
		return nil, fmt.Errorf("workbook missing 'steps' column")
	}

	cell := func(row []string, idx int, ok bool) string {
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	titleCol, hasTitle := col["title"]
	compCol, hasComp := col["component"]
	descCol, hasDesc := col["description"]
	expCol, hasExp := col["expected"]

	var cases []types.TestCase
	for _, row := range rows[1:] {
		id := cell(row, idCol, true)
		if id == "" {
			continue
		}
		tc := types.TestCase{
			ID:          id,
			Title:       cell(row, titleCol, hasTitle),
			Component:   cell(row, compCol, hasComp),
			Description: cell(row, descCol, hasDesc),
			Expected:    cell(row, expCol, hasExp),
			CreatedAt:   time.Now(),
			SourceFile:  filepath.Base(path),
		}
		for _, raw := range splitSteps(cell(row, stepsCol, true)) {
			tc.Steps = append(tc.Steps, types.Step{Goal: raw})
		}
		if len(tc.Steps) == 0 {
			continue
		}
		cases = append(cases, tc)
	}
	return cases, nil
}

func splitSteps(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '\n' || r == ';'
	}) {
		part = strings.TrimSpace(part)
		// Tolerate "1. tap settings" style numbering.
		part = strings.TrimLeft(part, "0123456789.) ")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
