package handlers

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
)

// BenchmarkJSONDecode measures JSON request parsing performance.
func BenchmarkJSONDecode(b *testing.B) {
	reqBody := `{"url":"https://example.com","searchType":"all"}`

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var req analyzeRequest
		if err := json.Unmarshal([]byte(reqBody), &req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkJSONDecodeWithPool measures JSON decoding using pooled buffers,
// the path HandleAnalyze actually takes.
func BenchmarkJSONDecodeWithPool(b *testing.B) {
	reqBody := `{"url":"https://example.com","searchType":"all"}`
	reader := strings.NewReader(reqBody)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader.Reset(reqBody)

		buf := getBuffer()
		_, _ = io.Copy(buf, reader)
		var req analyzeRequest
		if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
			b.Fatal(err)
		}
		putBuffer(buf)
	}
}

// BenchmarkJSONEncodeWithPool measures buffered response encoding.
func BenchmarkJSONEncodeWithPool(b *testing.B) {
	rep := sampleReport()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := getResponseBuffer()
		if err := json.NewEncoder(buf).Encode(rep); err != nil {
			b.Fatal(err)
		}
		putResponseBuffer(buf)
	}
}
