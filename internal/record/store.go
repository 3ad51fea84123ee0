package record

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archivescan/pipeline/internal/table"
)

// Record is one archive item in the permanent store. Fields follow the
// Dublin-Core-ish layout of the archive catalog.
type Record struct {
	ID          uuid.UUID
	Title       string
	Description string
	Subject     string
	Coverage    string
	Identifier  string
	Type        string
	Format      string
	Source      string
	Rights      string
	Collection  string
	CreatedAt   time.Time
}

// Store writes and reads archive records.
type Store interface {
	CreateRecord(ctx context.Context, rec Record) (uuid.UUID, error)
	ListRecords(ctx context.Context, collection string) ([]Record, error)
}

// FromRow maps one summary row onto an archive record for a session import.
func FromRow(row table.Row, sessionID, collection string) Record {
	return Record{
		Title:       fmt.Sprintf("Item %s - ID: %s", row.Directory, row.IDNumber),
		Description: BuildDescription(row),
		Subject:     row.PrintedLabels,
		Coverage:    row.Addresses,
		Identifier:  row.IDNumber,
		Type:        "Digitized Document",
		Format:      "Digital Image",
		Source:      "Pipeline Session " + sessionID,
		Rights:      "Museum Archive",
		Collection:  collection,
	}
}

// BuildDescription assembles a readable description from the extracted text.
func BuildDescription(row table.Row) string {
	var parts []string
	if row.HandwrittenNotes != "" {
		parts = append(parts, "Handwritten: "+row.HandwrittenNotes)
	}
	if row.OtherMarkings != "" {
		parts = append(parts, "Markings: "+row.OtherMarkings)
	}
	if row.ExtractionNotes != "" {
		parts = append(parts, "Notes: "+row.ExtractionNotes)
	}
	if row.FrontImagePath != "" || row.BackImagePath != "" {
		var files []string
		if row.FrontImagePath != "" {
			files = append(files, "front: "+row.FrontImagePath)
		}
		if row.BackImagePath != "" {
			files = append(files, "back: "+row.BackImagePath)
		}
		parts = append(parts, "Files: "+strings.Join(files, ", "))
	}
	if len(parts) == 0 {
		return "No text extracted"
	}
	return strings.Join(parts, " | ")
}

// SearchText flattens a record into the text blob fed to the semantic index.
func SearchText(rec Record) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(rec.Title)
	if rec.Description != "" {
		b.WriteString(" Description: ")
		b.WriteString(rec.Description)
	}
	if rec.Subject != "" {
		b.WriteString(" Subject: ")
		b.WriteString(rec.Subject)
	}
	return b.String()
}
