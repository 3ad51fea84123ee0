package table

import "strings"

// Row flags. Quality and no-text flags come from the extractor's free-text
// notes; duplicate and error flags are derived from the table itself.
const (
	FlagQualityIssue    = "quality_issue"
	FlagNoText          = "no_text"
	FlagDuplicateID     = "duplicate_id"
	FlagProcessingError = "processing_error"
)

var qualityPhrases = []string{
	"faint text", "faded text", "unclear text", "blurry text",
	"not able to read", "cannot read", "unreadable", "illegible",
	"partially visible", "hard to read", "difficult to read",
	"poor quality", "damaged", "worn", "scratched",
}

var noTextPhrases = []string{
	"no text", "no other text", "blank", "empty",
	"nothing visible", "no content",
}

// ExtractIssueFlags scans extraction notes for known trouble phrases.
// Matching is case-insensitive substring; each flag fires at most once.
func ExtractIssueFlags(extractionNotes string) []string {
	if extractionNotes == "" {
		return nil
	}
	lower := strings.ToLower(extractionNotes)

	var flags []string
	for _, phrase := range qualityPhrases {
		if strings.Contains(lower, phrase) {
			flags = append(flags, FlagQualityIssue)
			break
		}
	}
	for _, phrase := range noTextPhrases {
		if strings.Contains(lower, phrase) {
			flags = append(flags, FlagNoText)
			break
		}
	}
	return flags
}
