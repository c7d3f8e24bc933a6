// Package export renders an analysis report as downloadable CSV, ZIP and
// XLSX files.
package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nixintel/urldater/internal/report"
	"github.com/nixintel/urldater/internal/types"
)

// ErrNoData means the report carries nothing for the requested signal.
var ErrNoData = errors.New("no data to export")

// Filenames embed the date as DDMMYYYY.
const stampLayout = "02012006"

// table is one exportable signal flattened to rows.
type table struct {
	kind   string
	header []string
	rows   [][]string
}

// Exporter builds export payloads. The clock is injectable so tests get
// stable filenames.
type Exporter struct {
	now func() time.Time
}

func New() *Exporter {
	return &Exporter{now: time.Now}
}

// CSV renders the single signal table named by signal.
func (e *Exporter) CSV(rep *report.Report, signal report.Signal) (string, []byte, error) {
	for _, t := range tables(rep) {
		if t.kind != string(signal) {
			continue
		}
		data, err := encodeCSV(t)
		if err != nil {
			return "", nil, err
		}
		return e.filename(rep.Domain, t.kind+".csv"), data, nil
	}
	return "", nil, ErrNoData
}

// ZIP bundles every populated signal table as its own CSV inside one
// archive.
func (e *Exporter) ZIP(rep *report.Report) (string, []byte, error) {
	tbls := tables(rep)
	if len(tbls) == 0 {
		return "", nil, ErrNoData
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, t := range tbls {
		data, err := encodeCSV(t)
		if err != nil {
			zw.Close()
			return "", nil, err
		}
		w, err := zw.Create(e.filename(rep.Domain, t.kind+".csv"))
		if err != nil {
			zw.Close()
			return "", nil, fmt.Errorf("create zip entry: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			zw.Close()
			return "", nil, fmt.Errorf("write zip entry: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", nil, fmt.Errorf("finalize zip: %w", err)
	}
	return e.filename(rep.Domain, "all.zip"), buf.Bytes(), nil
}

// XLSX renders the report as a workbook with one sheet per populated
// signal.
func (e *Exporter) XLSX(rep *report.Report) (string, []byte, error) {
	tbls := tables(rep)
	if len(tbls) == 0 {
		return "", nil, ErrNoData
	}

	f := excelize.NewFile()
	defer f.Close()

	for _, t := range tbls {
		sheet := sheetName(t.kind)
		if _, err := f.NewSheet(sheet); err != nil {
			return "", nil, fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		if err := writeSheetRow(f, sheet, 1, t.header); err != nil {
			return "", nil, err
		}
		for i, row := range t.rows {
			if err := writeSheetRow(f, sheet, i+2, row); err != nil {
				return "", nil, err
			}
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", nil, fmt.Errorf("drop default sheet: %w", err)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", nil, fmt.Errorf("encode workbook: %w", err)
	}
	return e.filename(rep.Domain, "report.xlsx"), buf.Bytes(), nil
}

func writeSheetRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write row %d on %s: %w", row, sheet, err)
	}
	return nil
}

func sheetName(kind string) string {
	switch kind {
	case "rdap":
		return "RDAP"
	case "headers":
		return "Headers"
	case "certs":
		return "Certificates"
	}
	return kind
}

func (e *Exporter) filename(domain, suffix string) string {
	sanitized := strings.ReplaceAll(strings.TrimSpace(domain), ".", "_")
	if sanitized == "" {
		sanitized = "unknown"
	}
	return fmt.Sprintf("%s_%s_%s", sanitized, e.now().Format(stampLayout), suffix)
}

func tables(rep *report.Report) []table {
	var tbls []table
	if len(rep.RDAP) > 0 {
		tbls = append(tbls, resultTable("rdap", rep.RDAP))
	}
	if len(rep.Headers) > 0 {
		tbls = append(tbls, resultTable("headers", rep.Headers))
	}
	if len(rep.Certs) > 0 {
		tbls = append(tbls, certTable(rep.Certs))
	}
	return tbls
}

func resultTable(kind string, results []types.Result) table {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.Type, r.URL, r.LastModified, r.Message})
	}
	return table{
		kind:   kind,
		header: []string{"type", "url", "last_modified", "error"},
		rows:   rows,
	}
}

func certTable(entries []report.CertResult) table {
	rows := make([][]string, 0, len(entries))
	for _, c := range entries {
		rows = append(rows, []string{c.CommonName, c.FirstSeen, c.ValidFrom, c.SourceURL, c.Status, c.Message})
	}
	return table{
		kind:   "certs",
		header: []string{"common_name", "first_seen", "valid_from", "url", "status", "error"},
		rows:   rows,
	}
}

func encodeCSV(t table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range t.rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
