package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/man0l/real-estate-analyzer/models"
	"github.com/man0l/real-estate-analyzer/utils"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresFromDB(db, nil, utils.NewLogger(false)), mock
}

func expectListingUpsert(mock sqlmock.Sqlmock, storedURL string) {
	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"url"})
	if storedURL != "" {
		rows.AddRow(storedURL)
	}
	mock.ExpectQuery("SELECT url FROM properties").WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO properties").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestSavePropertyMinimalRecord(t *testing.T) {
	pg, mock := newMockStore(t)

	expectListingUpsert(mock, "")
	mock.ExpectCommit()

	p := &models.Property{ID: "1a234", URL: "https://www.imot.bg/a"}
	if err := pg.SaveProperty(context.Background(), p); err != nil {
		t.Fatalf("SaveProperty: %v", err)
	}

	// No satellite sub-objects were supplied, so no satellite, feature or
	// image statements may run.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected statements: %v", err)
	}
}

func TestURLHistoryUnchangedURL(t *testing.T) {
	pg, mock := newMockStore(t)

	expectListingUpsert(mock, "https://www.imot.bg/a")
	mock.ExpectCommit()

	p := &models.Property{ID: "1a234", URL: "https://www.imot.bg/a"}
	if err := pg.SaveProperty(context.Background(), p); err != nil {
		t.Fatalf("SaveProperty: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("re-crawl with unchanged URL must not touch url_history: %v", err)
	}
}

func TestURLHistoryChangedURL(t *testing.T) {
	pg, mock := newMockStore(t)

	expectListingUpsert(mock, "https://www.imot.bg/old")
	mock.ExpectExec("INSERT INTO url_history").
		WithArgs("1a234", "https://www.imot.bg/old", "https://www.imot.bg/new").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p := &models.Property{ID: "1a234", URL: "https://www.imot.bg/new"}
	if err := pg.SaveProperty(context.Background(), p); err != nil {
		t.Fatalf("SaveProperty: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("changed URL must append exactly one url_history row: %v", err)
	}
}

func TestSatelliteUpserts(t *testing.T) {
	pg, mock := newMockStore(t)

	expectListingUpsert(mock, "")
	mock.ExpectCommit()

	mock.ExpectExec("INSERT INTO locations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO floor_info").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO construction_info").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO contact_info").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO monthly_payments").WillReturnResult(sqlmock.NewResult(0, 1))

	year := 2024
	heating := true
	p := &models.Property{
		ID:             "1a234",
		URL:            "https://www.imot.bg/a",
		Location:       &models.Location{City: "град София", District: "Лозенец"},
		Floor:          &models.FloorInfo{Current: 3, Total: 8},
		Construction:   &models.Construction{Type: "Тухла", Year: &year},
		CentralHeating: &heating,
		Contact:        &models.Contact{BrokerName: "Иван Иванов", Phone: "0888"},
		MonthlyPayment: &models.MonthlyPayment{Value: 540, Currency: "EUR"},
	}
	if err := pg.SaveProperty(context.Background(), p); err != nil {
		t.Fatalf("SaveProperty: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("satellite upserts: %v", err)
	}
}

func TestFeaturesReplacedWholesale(t *testing.T) {
	pg, mock := newMockStore(t)

	expectListingUpsert(mock, "")
	mock.ExpectCommit()

	mock.ExpectExec("DELETE FROM features").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO features").
		WithArgs("1a234", "Асансьор").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO features").
		WithArgs("1a234", "Частно лице").WillReturnResult(sqlmock.NewResult(0, 1))

	p := &models.Property{
		ID:       "1a234",
		URL:      "https://www.imot.bg/a",
		Features: []string{"Асансьор", "Частно лице"},
	}
	if err := pg.SaveProperty(context.Background(), p); err != nil {
		t.Fatalf("SaveProperty: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("feature replacement: %v", err)
	}
}

func TestKnownStoredImageOnlyRepositioned(t *testing.T) {
	pg, mock := newMockStore(t)

	expectListingUpsert(mock, "")
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT url, COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"url", "storage_url"}).
			AddRow("https://photos/a.jpg", "https://blob/public/a.jpg"))
	mock.ExpectExec("UPDATE images SET position").
		WithArgs(0, "1a234", "https://photos/a.jpg").
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &models.Property{
		ID:     "1a234",
		URL:    "https://www.imot.bg/a",
		Images: []string{"https://photos/a.jpg"},
	}
	if err := pg.SaveProperty(context.Background(), p); err != nil {
		t.Fatalf("SaveProperty: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("stored image must only be repositioned: %v", err)
	}
}

func TestUnknownImageInsertedWithoutPipeline(t *testing.T) {
	pg, mock := newMockStore(t)

	expectListingUpsert(mock, "")
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT url, COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"url", "storage_url"}))
	mock.ExpectExec("INSERT INTO images").
		WithArgs("1a234", "https://photos/a.jpg", 0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &models.Property{
		ID:     "1a234",
		URL:    "https://www.imot.bg/a",
		Images: []string{"https://photos/a.jpg"},
	}
	if err := pg.SaveProperty(context.Background(), p); err != nil {
		t.Fatalf("SaveProperty: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("new image without pipeline must insert a null storage_url row: %v", err)
	}
}

func TestSaveMetadata(t *testing.T) {
	pg, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO metadata").
		WithArgs("total_listings", []byte("412")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := pg.SaveMetadata(context.Background(), "total_listings", 412); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("metadata upsert: %v", err)
	}
}

func TestStatusCandidates(t *testing.T) {
	pg, mock := newMockStore(t)

	mock.ExpectQuery("SELECT p.id, p.description").
		WillReturnRows(sqlmock.NewRows([]string{"id", "description"}).
			AddRow("1a234", "Апартамент с акт 16.").
			AddRow("1b000", "Пред акт 15."))

	got, err := pg.StatusCandidates(context.Background(), false)
	if err != nil {
		t.Fatalf("StatusCandidates: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1a234" || got[1].Description != "Пред акт 15." {
		t.Errorf("candidates = %+v", got)
	}
}

func TestUpdateBuildingStatusEnsuresRow(t *testing.T) {
	pg, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO construction_info").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE construction_info").
		WillReturnResult(sqlmock.NewResult(0, 1))

	status := models.BuildingStatus{HasAct16: true, Details: "разрешение за ползване"}
	if err := pg.UpdateBuildingStatus(context.Background(), "1a234", status); err != nil {
		t.Fatalf("UpdateBuildingStatus: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("building status update: %v", err)
	}
}
