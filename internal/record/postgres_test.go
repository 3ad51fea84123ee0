package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivescan/pipeline/internal/table"
)

func TestCreateRecordAssignsIDAndTimestamp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO records").
		WithArgs(
			pgxmock.AnyArg(), "Item 001 - ID: 27.42", pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), "27.42", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), "Pipeline Results", pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPostgresStore(mock, nil)
	rec := FromRow(table.Row{Directory: "001", IDNumber: "27.42"}, "sess-1", "Pipeline Results")

	id, err := store.CreateRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecordInsertFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO records").
		WillReturnError(errors.New("connection refused"))

	store := NewPostgresStore(mock, nil)
	_, err = store.CreateRecord(context.Background(), Record{Title: "x"})
	assert.ErrorContains(t, err, "insert record")
}

func TestListRecords(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{
		"id", "title", "description", "subject", "coverage", "identifier",
		"record_type", "format", "source", "rights", "collection_name", "created_at",
	}).AddRow(
		id, "Item 001 - ID: 27.42", "desc", "labels", "addresses", "27.42",
		"Digitized Document", "Digital Image", "Pipeline Session sess-1",
		"Museum Archive", "Pipeline Results", now,
	)
	mock.ExpectQuery("SELECT (.+) FROM records WHERE collection_name").
		WithArgs("Pipeline Results").
		WillReturnRows(rows)

	store := NewPostgresStore(mock, nil)
	recs, err := store.ListRecords(context.Background(), "Pipeline Results")
	require.NoError(t, err)

	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID)
	assert.Equal(t, "27.42", recs[0].Identifier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFromRowAndDescription(t *testing.T) {
	row := table.Row{
		Directory:        "003",
		IDNumber:         "63.8",
		FrontImagePath:   "003/scan_005A.jpg",
		BackImagePath:    "003/scan_006B.jpg",
		HandwrittenNotes: "to grandma, 1943",
		PrintedLabels:    "Smith Studio",
		Addresses:        "12 Main St",
		ExtractionNotes:  "faint text at edge",
	}
	rec := FromRow(row, "sess-9", "Pipeline Results")

	assert.Equal(t, "Item 003 - ID: 63.8", rec.Title)
	assert.Equal(t, "63.8", rec.Identifier)
	assert.Equal(t, "Smith Studio", rec.Subject)
	assert.Equal(t, "12 Main St", rec.Coverage)
	assert.Equal(t, "Pipeline Session sess-9", rec.Source)

	assert.Contains(t, rec.Description, "Handwritten: to grandma, 1943")
	assert.Contains(t, rec.Description, "Notes: faint text at edge")
	assert.Contains(t, rec.Description, "front: 003/scan_005A.jpg")

	assert.Equal(t, "No text extracted", BuildDescription(table.Row{}))

	text := SearchText(rec)
	assert.Contains(t, text, "Title: Item 003 - ID: 63.8")
	assert.Contains(t, text, "Subject: Smith Studio")
}
