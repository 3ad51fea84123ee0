package extract

import "context"

// Recognizer is the boundary to the external text-recognition service:
// image in, free text out. The adapter owns all structuring of the reply.
type Recognizer interface {
	Recognize(ctx context.Context, req RecognizeRequest) (string, error)
}

// RecognizeRequest carries one back image plus the prompt context the
// service needs to find the identifier.
type RecognizeRequest struct {
	ImageBytes []byte
	MIMEType   string
	UnitLabel  string
}

// Metadata groups the free-text categories extracted from a back image.
type Metadata struct {
	HandwrittenNotes []string `json:"handwritten_notes,omitempty"`
	PrintedLabels    []string `json:"printed_labels,omitempty"`
	Addresses        []string `json:"addresses,omitempty"`
	OtherMarkings    []string `json:"other_markings,omitempty"`
}

// Provenance records where and how a unit record was produced.
type Provenance struct {
	ImagePath   string `json:"image_path"`
	Directory   string `json:"directory"`
	ProcessedAt string `json:"processed_at"`
	ModelUsed   string `json:"model_used"`
}

// UnitRecord is the structured extraction document persisted per unit,
// one JSON file next to the pair of images.
type UnitRecord struct {
	IDNumber        string     `json:"id_number"`
	Metadata        Metadata   `json:"metadata"`
	ExtractionNotes string     `json:"extraction_notes,omitempty"`
	Processing      Provenance `json:"processing_info"`
}
