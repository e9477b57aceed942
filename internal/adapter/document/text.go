package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"medsight/internal/domain"
)

// textFormats maps supported file extensions to document formats. Binary
// formats such as PDF, DOCX and DICOM are rejected.
var textFormats = map[string]domain.DocumentFormat{
	"":      domain.FormatText,
	".txt":  domain.FormatText,
	".text": domain.FormatText,
	".md":   domain.FormatText,
	".note": domain.FormatText,
	".json": domain.FormatJSON,
	".xml":  domain.FormatXML,
	".hl7":  domain.FormatHL7,
	".fhir": domain.FormatFHIR,
}

// FormatForName returns the document format implied by name's extension.
func FormatForName(name string) (domain.DocumentFormat, error) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".fhir.json") {
		return domain.FormatFHIR, nil
	}
	ext := filepath.Ext(lower)
	if f, ok := textFormats[ext]; ok {
		return f, nil
	}
	return "", domain.NewDomainError("Loader.LoadRecord", domain.ErrUnsupportedFormat,
		fmt.Sprintf("%q files are not supported; upload plain text", ext))
}

// LoadRecordFile reads the text record at path.
func (l *Loader) LoadRecordFile(path string) (*domain.MedicalRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record: %w", err)
	}
	defer f.Close()

	rec, err := l.LoadRecord(f, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	rec.FilePath = path
	return rec, nil
}

// LoadRecord reads a UTF-8 text record from r and infers its record type
// from the content.
func (l *Loader) LoadRecord(r io.Reader, name string) (*domain.MedicalRecord, error) {
	format, err := FormatForName(name)
	if err != nil {
		return nil, err
	}
	data, err := readLimited(r, l.maxBytes)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, domain.NewDomainError("Loader.LoadRecord", domain.ErrUnsupportedFormat, "file is not UTF-8 text")
	}
	content := strings.TrimPrefix(string(data), "\ufeff")
	if strings.TrimSpace(content) == "" {
		return nil, domain.NewDomainError("Loader.LoadRecord", domain.ErrInvalidInput, "empty file")
	}

	rec := &domain.MedicalRecord{
		RecordID:        uuid.NewString(),
		RecordType:      domain.InferRecordType(content),
		DocumentFormat:  format,
		Content:         content,
		Metadata:        map[string]any{"source_name": name},
		UploadTimestamp: time.Now().UTC(),
	}
	l.logger.Debug("loaded record",
		"record_id", rec.RecordID,
		"record_type", rec.RecordType,
		"format", rec.DocumentFormat,
		"bytes", len(data),
	)
	return rec, nil
}
