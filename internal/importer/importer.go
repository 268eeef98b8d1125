package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// maxReportedErrors caps the error list in a Result so a pathological file
// cannot balloon the report.
const maxReportedErrors = 10

// sampleRows is how many data rows accompany the header when asking the
// schema inferrer about an unknown format.
const sampleRows = 5

// Result summarizes one import batch.
type Result struct {
	FormatID     string   `json:"format_id"`
	SuccessCount int      `json:"success_count"`
	FailedCount  int      `json:"failed_count"`
	SkippedCount int      `json:"skipped_count"`
	Errors       []string `json:"errors,omitempty"`
}

// Importer turns exchange CSV exports into ledger transactions. Row-level
// failures are counted and reported; they never abort the batch.
type Importer struct {
	writer   TransactionWriter
	inferrer SchemaInferrer
	log      zerolog.Logger
}

// NewImporter builds an Importer. inferrer may be nil, in which case unknown
// formats are rejected instead of inferred.
func NewImporter(writer TransactionWriter, inferrer SchemaInferrer, log zerolog.Logger) *Importer {
	return &Importer{
		writer:   writer,
		inferrer: inferrer,
		log:      log.With().Str("component", "importer").Logger(),
	}
}

// ImportFile reads a CSV export from disk and imports every row for ownerID.
func (im *Importer) ImportFile(ctx context.Context, path, ownerID string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return im.Import(ctx, f, ownerID)
}

// Import reads CSV data from r, using the first record as the header.
func (im *Importer) Import(ctx context.Context, r io.Reader, ownerID string) (*Result, error) {
	header, rows, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	return im.ImportRows(ctx, header, rows, ownerID)
}

// ReadCSV reads an exchange export into a header and data rows, tolerating a
// leading BOM and ragged row lengths.
func ReadCSV(r io.Reader) (header []string, rows [][]string, err error) {
	reader := csv.NewReader(r)
	// Real exchange exports are ragged; let Normalize handle short rows.
	reader.FieldsPerRecord = -1

	header, err = reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row: %w", err)
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// ImportRows detects the format (inferring the schema when unknown) and
// normalizes and writes every row. The returned Result is always non-nil when
// err is nil, even if every row failed.
func (im *Importer) ImportRows(ctx context.Context, header []string, rows [][]string, ownerID string) (*Result, error) {
	formatID := DetectFormat(header)
	mapping := BuiltinMapping(formatID)

	if mapping == nil {
		if im.inferrer == nil {
			return nil, fmt.Errorf("unknown csv format and no schema inferrer configured")
		}
		sample := rows
		if len(sample) > sampleRows {
			sample = sample[:sampleRows]
		}
		inferred, err := im.inferrer.InferSchema(ctx, header, sample)
		if err != nil {
			return nil, fmt.Errorf("infer csv schema: %w", err)
		}
		mapping = inferred
		im.log.Info().Strs("header", header).Msg("inferred schema for unknown csv format")
	}

	result := &Result{FormatID: formatID}
	for i, row := range rows {
		tx, err := Normalize(row, mapping, ownerID)
		if err != nil {
			result.recordError(i, err)
			continue
		}
		if tx == nil {
			result.SkippedCount++
			continue
		}
		if err := im.writer.WriteTransaction(ctx, tx); err != nil {
			result.recordError(i, err)
			continue
		}
		result.SuccessCount++
	}

	im.log.Info().
		Str("format", result.FormatID).
		Int("success", result.SuccessCount).
		Int("failed", result.FailedCount).
		Int("skipped", result.SkippedCount).
		Msg("csv import finished")
	return result, nil
}

func (r *Result) recordError(rowIndex int, err error) {
	r.FailedCount++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("row %d: %v", rowIndex+1, err))
	}
}
