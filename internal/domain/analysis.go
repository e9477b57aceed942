package domain

// Resolution is an image size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ImageQuality is the heuristic quality assessment made before an image is
// sent to the model.
type ImageQuality struct {
	Score              float64    `json:"score"`
	Resolution         Resolution `json:"resolution"`
	ResolutionAdequate bool       `json:"resolution_adequate"`
	AspectRatio        float64    `json:"aspect_ratio"`
	IsGrayscale        bool       `json:"is_grayscale"`
	Issues             []string   `json:"issues"`
}

// Finding is a single observation from the FINDINGS section of a reply.
type Finding struct {
	Finding string `json:"finding"`
}

// Abnormality is a single bullet from the ABNORMALITIES section of a reply.
type Abnormality struct {
	Description string `json:"description"`
}

// ImageAnalysis is the data payload of a successful image analysis.
type ImageAnalysis struct {
	Summary              string        `json:"summary"`
	DetailedFindings     []Finding     `json:"detailed_findings"`
	AnatomicalStructures []string      `json:"anatomical_structures"`
	Abnormalities        []Abnormality `json:"abnormalities"`
	ImageQuality         *ImageQuality `json:"image_quality,omitempty"`
	Confidence           float64       `json:"confidence"`
	Recommendations      []string      `json:"recommendations"`
}

// ImageInput is what the image analyzer accepts.
type ImageInput struct {
	Image *MedicalImage `json:"image"`
	Query string        `json:"query,omitempty"`
}

// ImageComparison is the payload produced when a current study is compared
// against a prior one.
type ImageComparison struct {
	CurrentSummary  string    `json:"current_summary"`
	PreviousSummary string    `json:"previous_summary"`
	NewFindings     []Finding `json:"new_findings"`
	Confidence      float64   `json:"confidence"`
}

// RecordExtraction is the data payload of a successful record parse.
type RecordExtraction struct {
	Entities      []MedicalEntity `json:"entities"`
	Diagnoses     []string        `json:"diagnoses"`
	Medications   []string        `json:"medications"`
	Procedures    []string        `json:"procedures"`
	Dates         []string        `json:"dates"`
	Summary       string          `json:"summary"`
	AnalysisNotes string          `json:"analysis_notes"`
	CriticalFlags []string        `json:"critical_flags,omitempty"`
}

// SynthesisInput is what the synthesis agent accepts. At least one of the
// two sources must be present.
type SynthesisInput struct {
	ImageFindings *ImageAnalysis    `json:"image_findings,omitempty"`
	RecordData    *RecordExtraction `json:"record_data,omitempty"`
	Query         string            `json:"query,omitempty"`
}

// Count returns how many sources are present.
func (in SynthesisInput) Count() int {
	n := 0
	if in.ImageFindings != nil {
		n++
	}
	if in.RecordData != nil {
		n++
	}
	return n
}

// Correlation is a term found in both imaging and clinical history.
type Correlation struct {
	Finding     string `json:"finding"`
	Correlation string `json:"correlation"`
	Description string `json:"description"`
}

// Discrepancy is a mismatch between imaging and clinical history.
type Discrepancy struct {
	Type           string `json:"type"`
	Description    string `json:"description"`
	RequiresReview bool   `json:"requires_review"`
}

// SynthesisReport is the data payload of a successful synthesis.
type SynthesisReport struct {
	Synthesis           string        `json:"synthesis"`
	Correlations        []Correlation `json:"correlations"`
	Discrepancies       []Discrepancy `json:"discrepancies"`
	ComprehensiveReport string        `json:"comprehensive_report"`
}

// QAInput is what the QA agent accepts.
type QAInput struct {
	Query   string    `json:"query"`
	History []Message `json:"conversation_history,omitempty"`
}

// QAAnswer is the data payload of a QA answer.
type QAAnswer struct {
	Answer          string    `json:"answer"`
	IsExplanation   bool      `json:"is_explanation"`
	RelevantContext []Message `json:"relevant_context"`
}

// Answer is the normalized payload the orchestrator returns to callers.
type Answer struct {
	Answer          string        `json:"answer"`
	RefinementNotes []string      `json:"refinement_notes,omitempty"`
	SafetyCheck     *SafetyReport `json:"safety_check,omitempty"`
	Details         any           `json:"details,omitempty"`
}
