package domain

import (
	"sort"
	"strings"
	"time"
)

// ImageType is the clinical category of a medical image.
type ImageType string

const (
	ImageXRay           ImageType = "xray"
	ImageMRI            ImageType = "mri"
	ImageCT             ImageType = "ct"
	ImageUltrasound     ImageType = "ultrasound"
	ImageMammogram      ImageType = "mammogram"
	ImagePET            ImageType = "pet"
	ImageHistopathology ImageType = "histopathology"
	ImageDermatology    ImageType = "dermatology"
	ImageUnknown        ImageType = "unknown"
)

// ImageModality is the acquisition technique behind an image.
type ImageModality string

const (
	ModalityRadiography       ImageModality = "radiography"
	ModalityComputedTomo      ImageModality = "computed_tomography"
	ModalityMagneticResonance ImageModality = "magnetic_resonance"
	ModalityUltrasound        ImageModality = "ultrasound"
	ModalityNuclearMedicine   ImageModality = "nuclear_medicine"
	ModalityOther             ImageModality = "other"
)

var dicomModalities = map[string]ImageModality{
	"CT": ModalityComputedTomo,
	"MR": ModalityMagneticResonance,
	"US": ModalityUltrasound,
	"CR": ModalityRadiography,
	"DX": ModalityRadiography,
	"NM": ModalityNuclearMedicine,
}

var dicomImageTypes = map[string]ImageType{
	"CR": ImageXRay,
	"DX": ImageXRay,
	"CT": ImageCT,
	"MR": ImageMRI,
	"US": ImageUltrasound,
	"PT": ImagePET,
	"NM": ImagePET,
}

// ModalityFromDICOM maps a DICOM modality code (e.g. "CT") to an ImageModality.
func ModalityFromDICOM(code string) ImageModality {
	if m, ok := dicomModalities[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return m
	}
	return ModalityOther
}

// ImageTypeFromDICOM maps a DICOM modality code to an ImageType.
func ImageTypeFromDICOM(code string) ImageType {
	if t, ok := dicomImageTypes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return t
	}
	return ImageUnknown
}

// ImageMetadata carries acquisition details for an image.
type ImageMetadata struct {
	PatientID          string         `json:"patient_id,omitempty"`
	StudyDate          *time.Time     `json:"study_date,omitempty"`
	Modality           ImageModality  `json:"modality,omitempty"`
	BodyPart           string         `json:"body_part,omitempty"`
	ViewPosition       string         `json:"view_position,omitempty"`
	Institution        string         `json:"institution,omitempty"`
	ReferringPhysician string         `json:"referring_physician,omitempty"`
	StudyDescription   string         `json:"study_description,omitempty"`
	SeriesDescription  string         `json:"series_description,omitempty"`
	AdditionalInfo     map[string]any `json:"additional_info,omitempty"`
}

// MedicalImage is an uploaded image. ImageData holds base64-encoded PNG bytes.
type MedicalImage struct {
	ImageID         string        `json:"image_id"`
	ImageType       ImageType     `json:"image_type"`
	ImageData       string        `json:"image_data,omitempty"`
	FilePath        string        `json:"file_path,omitempty"`
	Width           int           `json:"width"`
	Height          int           `json:"height"`
	Grayscale       bool          `json:"grayscale,omitempty"`
	// OriginalWidth and OriginalHeight are the uploaded dimensions when the
	// stored copy was downscaled; zero otherwise.
	OriginalWidth   int           `json:"original_width,omitempty"`
	OriginalHeight  int           `json:"original_height,omitempty"`
	Metadata        ImageMetadata `json:"metadata"`
	UploadTimestamp time.Time     `json:"upload_timestamp"`
	QualityScore    *float64      `json:"quality_score,omitempty"`
}

// SourceDimensions returns the resolution the image was uploaded at.
func (m *MedicalImage) SourceDimensions() (width, height int) {
	if m.OriginalWidth > 0 && m.OriginalHeight > 0 {
		return m.OriginalWidth, m.OriginalHeight
	}
	return m.Width, m.Height
}

// DataURL returns the image as a data URL, or "" when no data is attached.
func (m *MedicalImage) DataURL() string {
	if m == nil || m.ImageData == "" {
		return ""
	}
	return "data:image/png;base64," + m.ImageData
}

// RecordType is the clinical category of a text record.
type RecordType string

const (
	RecordClinicalNote     RecordType = "clinical_note"
	RecordLabResult        RecordType = "lab_result"
	RecordRadiologyReport  RecordType = "radiology_report"
	RecordPathologyReport  RecordType = "pathology_report"
	RecordDischargeSummary RecordType = "discharge_summary"
	RecordPrescription     RecordType = "prescription"
	RecordVisitNote        RecordType = "visit_note"
	RecordProgressNote     RecordType = "progress_note"
	RecordOther            RecordType = "other"
)

// DocumentFormat is the source format a record was extracted from.
type DocumentFormat string

const (
	FormatPDF   DocumentFormat = "pdf"
	FormatText  DocumentFormat = "text"
	FormatDOCX  DocumentFormat = "docx"
	FormatHL7   DocumentFormat = "hl7"
	FormatFHIR  DocumentFormat = "fhir"
	FormatJSON  DocumentFormat = "json"
	FormatXML   DocumentFormat = "xml"
	FormatDICOM DocumentFormat = "dicom"
)

// recordTypeRules is evaluated in order; the first rule with a matching
// phrase wins.
var recordTypeRules = []struct {
	phrases []string
	typ     RecordType
}{
	{[]string{"visit note", "office visit"}, RecordVisitNote},
	{[]string{"progress note"}, RecordProgressNote},
	{[]string{"discharge"}, RecordDischargeSummary},
	{[]string{"lab result", "laboratory"}, RecordLabResult},
	{[]string{"radiology", "imaging"}, RecordRadiologyReport},
	{[]string{"pathology"}, RecordPathologyReport},
}

// InferRecordType guesses a record type from its text.
func InferRecordType(content string) RecordType {
	lower := strings.ToLower(content)
	for _, rule := range recordTypeRules {
		for _, p := range rule.phrases {
			if strings.Contains(lower, p) {
				return rule.typ
			}
		}
	}
	return RecordClinicalNote
}

// MedicalEntity is a span of clinically relevant text.
type MedicalEntity struct {
	EntityType string  `json:"entity_type"`
	Text       string  `json:"text"`
	Code       string  `json:"code,omitempty"`
	CodeSystem string  `json:"code_system,omitempty"`
	Confidence float64 `json:"confidence"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
}

// MedicalRecord is an uploaded text document.
type MedicalRecord struct {
	RecordID        string          `json:"record_id"`
	RecordType      RecordType      `json:"record_type"`
	DocumentFormat  DocumentFormat  `json:"document_format"`
	Content         string          `json:"content"`
	FilePath        string          `json:"file_path,omitempty"`
	PatientID       string          `json:"patient_id,omitempty"`
	RecordDate      *time.Time      `json:"record_date,omitempty"`
	Author          string          `json:"author,omitempty"`
	Institution     string          `json:"institution,omitempty"`
	Entities        []MedicalEntity `json:"entities,omitempty"`
	Diagnoses       []string        `json:"diagnoses,omitempty"`
	Medications     []string        `json:"medications,omitempty"`
	Procedures      []string        `json:"procedures,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	UploadTimestamp time.Time       `json:"upload_timestamp"`
	Processed       bool            `json:"processed"`
}

// PatientData aggregates the images and records attached to a session.
// The orchestrator only reads it.
type PatientData struct {
	PatientID string           `json:"patient_id"`
	Images    []*MedicalImage  `json:"images"`
	Records   []*MedicalRecord `json:"records"`
	Timeline  *PatientTimeline `json:"timeline,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewPatientData returns an empty container for patientID.
func NewPatientData(patientID string) *PatientData {
	now := time.Now().UTC()
	return &PatientData{PatientID: patientID, CreatedAt: now, UpdatedAt: now}
}

func (p *PatientData) AddImage(img *MedicalImage) {
	p.Images = append(p.Images, img)
	p.UpdatedAt = time.Now().UTC()
}

func (p *PatientData) AddRecord(rec *MedicalRecord) {
	p.Records = append(p.Records, rec)
	p.UpdatedAt = time.Now().UTC()
}

// HasImages reports whether at least one image is attached. Safe on nil.
func (p *PatientData) HasImages() bool { return p != nil && len(p.Images) > 0 }

// HasRecords reports whether at least one record is attached. Safe on nil.
func (p *PatientData) HasRecords() bool { return p != nil && len(p.Records) > 0 }

// LatestImage returns the most recently added image, or nil.
func (p *PatientData) LatestImage() *MedicalImage {
	if !p.HasImages() {
		return nil
	}
	return p.Images[len(p.Images)-1]
}

// LatestRecord returns the most recently added record, or nil.
func (p *PatientData) LatestRecord() *MedicalRecord {
	if !p.HasRecords() {
		return nil
	}
	return p.Records[len(p.Records)-1]
}

func (p *PatientData) ImagesByType(t ImageType) []*MedicalImage {
	var out []*MedicalImage
	for _, img := range p.Images {
		if img.ImageType == t {
			out = append(out, img)
		}
	}
	return out
}

func (p *PatientData) RecordsByType(t RecordType) []*MedicalRecord {
	var out []*MedicalRecord
	for _, rec := range p.Records {
		if rec.RecordType == t {
			out = append(out, rec)
		}
	}
	return out
}

// RecentImages returns up to n images, newest upload first.
func (p *PatientData) RecentImages(n int) []*MedicalImage {
	sorted := append([]*MedicalImage(nil), p.Images...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UploadTimestamp.After(sorted[j].UploadTimestamp)
	})
	return sorted[:min(n, len(sorted))]
}

// RecentRecords returns up to n records, newest upload first.
func (p *PatientData) RecentRecords(n int) []*MedicalRecord {
	sorted := append([]*MedicalRecord(nil), p.Records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UploadTimestamp.After(sorted[j].UploadTimestamp)
	})
	return sorted[:min(n, len(sorted))]
}

// TimelineEvent is one dated clinical event.
type TimelineEvent struct {
	Date        time.Time `json:"date"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
}

// PatientTimeline keeps a patient's events ordered by date.
type PatientTimeline struct {
	PatientID string          `json:"patient_id"`
	Events    []TimelineEvent `json:"events"`
}

// AddEvent inserts an event, keeping Events sorted by date.
func (t *PatientTimeline) AddEvent(date time.Time, eventType, description, source string) {
	t.Events = append(t.Events, TimelineEvent{Date: date, Type: eventType, Description: description, Source: source})
	sort.SliceStable(t.Events, func(i, j int) bool {
		return t.Events[i].Date.Before(t.Events[j].Date)
	})
}

// EventsInRange returns events with start <= date <= end.
func (t *PatientTimeline) EventsInRange(start, end time.Time) []TimelineEvent {
	var out []TimelineEvent
	for _, e := range t.Events {
		if !e.Date.Before(start) && !e.Date.After(end) {
			out = append(out, e)
		}
	}
	return out
}
