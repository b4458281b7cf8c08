package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/caseflow/backend/internal/models"
	"github.com/caseflow/backend/internal/storage"
)

// memStore is an in-memory EvidenceStore for tests.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var infos []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func strPtr(s string) *string { return &s }

func TestWriteArchiveGroupsByCategory(t *testing.T) {
	store := newMemStore()
	store.objects["1/7/custody-order.pdf"] = []byte("order body")
	store.objects["1/7/texts-march.txt"] = []byte("message log")
	store.objects["1/7/receipt.jpg"] = []byte("image bytes")

	files := []models.CaseFileMetadata{
		{CaseID: 7, FileName: "custody-order.pdf", FilePath: "1/7/custody-order.pdf", FileCategory: strPtr("Court Filings"), SuggestedName: strPtr("2024-custody-order.pdf")},
		{CaseID: 7, FileName: "texts-march.txt", FilePath: "1/7/texts-march.txt", FileCategory: strPtr("Communications")},
		{CaseID: 7, FileName: "receipt.jpg", FilePath: "1/7/receipt.jpg"},
	}

	es := &ExportService{store: store}
	var buf bytes.Buffer
	written, err := es.writeArchive(context.Background(), &buf, 7, files)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if written != 3 {
		t.Errorf("Expected 3 files written, got %d", written)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Output is not a valid zip: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}

	expected := []string{
		"Court Filings/2024-custody-order.pdf",
		"Communications/texts-march.txt",
		"Uncategorized/receipt.jpg",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("Expected zip entry %q, got entries %v", name, names)
		}
	}
}

func TestWriteArchiveSkipsMissingObjects(t *testing.T) {
	store := newMemStore()
	store.objects["1/7/present.txt"] = []byte("here")

	files := []models.CaseFileMetadata{
		{CaseID: 7, FileName: "present.txt", FilePath: "1/7/present.txt"},
		{CaseID: 7, FileName: "missing.txt", FilePath: "1/7/missing.txt"},
	}

	es := &ExportService{store: store}
	var buf bytes.Buffer
	written, err := es.writeArchive(context.Background(), &buf, 7, files)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if written != 1 {
		t.Errorf("Expected 1 file written, got %d", written)
	}
}

func TestBuildZipEmptyCategoryNamesCategory(t *testing.T) {
	es := &ExportService{db: newDryRunDB(t), store: newMemStore()}

	var buf bytes.Buffer
	err := es.BuildZip(context.Background(), &buf, 7, "Medical Records")
	if err == nil {
		t.Fatal("Expected an error for an empty category")
	}
	if !strings.Contains(err.Error(), "Medical Records") {
		t.Errorf("Expected the error to name the category, got: %v", err)
	}
}

func TestZipFileName(t *testing.T) {
	tests := []struct {
		caseName string
		category string
		expected string
	}{
		{"Smith v Smith", "", "Smith v Smith-evidence.zip"},
		{"Smith v Smith", "Court Filings", "Smith v Smith-Court Filings-evidence.zip"},
	}

	for _, test := range tests {
		if got := ZipFileName(test.caseName, test.category); got != test.expected {
			t.Errorf("ZipFileName(%q, %q) = %q, expected %q", test.caseName, test.category, got, test.expected)
		}
	}
}
