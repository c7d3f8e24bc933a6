package export

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nixintel/urldater/internal/report"
	"github.com/nixintel/urldater/internal/types"
)

func fixedExporter() *Exporter {
	return &Exporter{now: func() time.Time {
		return time.Date(2020, 10, 21, 7, 28, 0, 0, time.UTC)
	}}
}

func sampleReport() *report.Report {
	return &report.Report{
		Domain: "example.com",
		RDAP: []types.Result{
			types.Success(types.KindRegistered, "https://rdap.org/domain/example.com",
				time.Date(1997, 9, 15, 4, 0, 0, 0, time.UTC)),
		},
		Headers: []types.Result{
			types.Success(types.KindFavicon, "https://example.com/favicon.ico",
				time.Date(2019, 5, 1, 12, 0, 0, 0, time.UTC)),
			types.Diagnostic(types.SeverityInfo, "No image data could be found.", false),
		},
		Certs: []report.CertResult{
			{CommonName: "www.example.com", FirstSeen: "09-03-2015", ValidFrom: "08-03-2015", SourceURL: "https://crt.sh/?id=100"},
		},
	}
}

func TestCSV_Headers(t *testing.T) {
	name, data, err := fixedExporter().CSV(sampleReport(), report.SignalHeaders)
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if name != "example_com_21102020_headers.csv" {
		t.Errorf("filename = %q", name)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %q", len(lines), data)
	}
	if lines[0] != "type,url,last_modified,error" {
		t.Errorf("header line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "https://example.com/favicon.ico") ||
		!strings.Contains(lines[1], "01-05-2019 12:00:00 UTC") {
		t.Errorf("favicon row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "No image data could be found.") {
		t.Errorf("diagnostic row = %q", lines[2])
	}
}

func TestCSV_Certs(t *testing.T) {
	name, data, err := fixedExporter().CSV(sampleReport(), report.SignalCerts)
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if name != "example_com_21102020_certs.csv" {
		t.Errorf("filename = %q", name)
	}
	if !strings.Contains(string(data), "www.example.com,09-03-2015,08-03-2015,https://crt.sh/?id=100") {
		t.Errorf("cert row missing: %q", data)
	}
}

func TestCSV_NoData(t *testing.T) {
	rep := &report.Report{Domain: "example.com"}
	if _, _, err := fixedExporter().CSV(rep, report.SignalRDAP); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestZIP(t *testing.T) {
	name, data, err := fixedExporter().ZIP(sampleReport())
	if err != nil {
		t.Fatalf("ZIP: %v", err)
	}
	if name != "example_com_21102020_all.zip" {
		t.Errorf("filename = %q", name)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := map[string]bool{
		"example_com_21102020_rdap.csv":    false,
		"example_com_21102020_headers.csv": false,
		"example_com_21102020_certs.csv":   false,
	}
	for _, f := range zr.File {
		if _, ok := want[f.Name]; !ok {
			t.Errorf("unexpected archive entry %q", f.Name)
			continue
		}
		want[f.Name] = true
	}
	for entry, seen := range want {
		if !seen {
			t.Errorf("archive missing %q", entry)
		}
	}
}

func TestZIP_NoData(t *testing.T) {
	if _, _, err := fixedExporter().ZIP(&report.Report{Domain: "x"}); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestXLSX(t *testing.T) {
	name, data, err := fixedExporter().XLSX(sampleReport())
	if err != nil {
		t.Fatalf("XLSX: %v", err)
	}
	if name != "example_com_21102020_report.xlsx" {
		t.Errorf("filename = %q", name)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	for _, want := range []string{"RDAP", "Headers", "Certificates"} {
		found := false
		for _, s := range sheets {
			if s == want {
				found = true
			}
		}
		if !found {
			t.Errorf("workbook missing sheet %q (got %v)", want, sheets)
		}
	}

	header, err := f.GetCellValue("RDAP", "A1")
	if err != nil || header != "type" {
		t.Errorf("RDAP!A1 = %q, %v", header, err)
	}
	cn, err := f.GetCellValue("Certificates", "A2")
	if err != nil || cn != "www.example.com" {
		t.Errorf("Certificates!A2 = %q, %v", cn, err)
	}
}

func TestFilenameSanitizesDomain(t *testing.T) {
	e := fixedExporter()
	if got := e.filename("sub.example.co.uk", "rdap.csv"); got != "sub_example_co_uk_21102020_rdap.csv" {
		t.Errorf("filename = %q", got)
	}
	if got := e.filename("", "all.zip"); got != "unknown_21102020_all.zip" {
		t.Errorf("empty domain filename = %q", got)
	}
}
