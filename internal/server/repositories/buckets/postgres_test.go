package buckets

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
)

var columns = []string{"id", "name", "description", "owner_id", "owner_email", "collaborators", "created_at", "updated_at",
	"active", "file_count", "byte_size", "legacy_pin", "pin_blob", "pin_hash", "deleted_at", "deletion_reason", "color", "icon"}

var t0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func protectedRow(id string) []driver.Value {
	return []driver.Value{id, "holiday", "photos", "u1", "u1@example.com", []byte(`["a@example.com"]`), t0, t0,
		true, int64(2), int64(2048), nil, []byte("blob"), []byte("hash"), nil, "", "blue", "star"}
}

func legacyRow(id, pin string) []driver.Value {
	return []driver.Value{id, "old", "", "u2", "", []byte(`[]`), t0, t0,
		true, int64(0), int64(0), pin, nil, nil, nil, "", "", ""}
}

func TestCreate_Protected(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+buckets\b.*RETURNING\s+id,`).
		WithArgs("holiday", "photos", "u1", "u1@example.com", `["a@example.com"]`, nil, []byte("blob"), []byte("hash"), "blue", "star").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(protectedRow("b1")...))

	got, err := repo.Create(context.Background(), &models.Bucket{
		Name: "holiday", Description: "photos", OwnerID: "u1", OwnerEmail: "u1@example.com",
		Collaborators: []string{"a@example.com"}, Color: "blue", Icon: "star",
		Credential: models.Protected{Blob: []byte("blob"), Hash: []byte("hash")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "b1" || !got.Active || got.FileCount != 2 || got.ByteSize != 2048 {
		t.Fatalf("unexpected bucket: %+v", got)
	}
	want := models.Protected{Blob: []byte("blob"), Hash: []byte("hash")}
	if !reflect.DeepEqual(got.Credential, want) {
		t.Fatalf("credential = %#v, want %#v", got.Credential, want)
	}
	if !reflect.DeepEqual(got.Collaborators, []string{"a@example.com"}) {
		t.Fatalf("collaborators = %v", got.Collaborators)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_RejectsMissingCredential(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	if _, err := repo.Create(context.Background(), &models.Bucket{Name: "x"}); err == nil {
		t.Fatal("expected error for bucket without credential")
	}
	if _, err := repo.Create(context.Background(), &models.Bucket{Name: "x", Credential: models.Protected{Blob: []byte("b")}}); err == nil {
		t.Fatal("expected error for protected credential without hash")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no queries expected: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+buckets`).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.Bucket{Credential: models.LegacyPlain{Pin: "PDAAAAAAAA"}})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	deleted := t0.Add(time.Hour)
	row := protectedRow("b1")
	row[8] = false
	row[14] = deleted
	row[15] = models.DeletionReasonOwner

	mock.ExpectQuery(`SELECT .* FROM buckets WHERE id = \$1`).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row...))

	got, err := repo.GetByID(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Active || got.DeletedAt == nil || !got.DeletedAt.Equal(deleted) || got.DeletionReason != "owner" {
		t.Fatalf("unexpected bucket: %+v", got)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM buckets WHERE id = \$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), "nope"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestFindActiveByLegacyPin(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)FROM buckets\s+WHERE upper\(legacy_pin\) = \$1 AND active.*LIMIT 1`).
		WithArgs("PDABCDEFGH").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(legacyRow("b9", "pdAbcdefgh")...))

	got, err := repo.FindActiveByLegacyPin(context.Background(), "pdabcdefGH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Credential != (models.LegacyPlain{Pin: "pdAbcdefgh"}) {
		t.Fatalf("credential = %#v", got.Credential)
	}
	if len(got.Collaborators) != 0 {
		t.Fatalf("collaborators = %v", got.Collaborators)
	}

	mock.ExpectQuery(`WHERE upper\(legacy_pin\) = \$1`).WithArgs("PDZZZZZZZZ").WillReturnError(sql.ErrNoRows)
	if _, err := repo.FindActiveByLegacyPin(context.Background(), "PDZZZZZZZZ"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestPinCandidates(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT id, pin_hash FROM buckets\s+WHERE active AND pin_hash IS NOT NULL.*ORDER BY id\s+LIMIT \$2`).
		WithArgs("b1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pin_hash"}).
			AddRow("b2", []byte("h2")).
			AddRow("b3", []byte("h3")))

	got, err := repo.PinCandidates(context.Background(), "b1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []models.PinCandidate{{BucketID: "b2", Hash: []byte("h2")}, {BucketID: "b3", Hash: []byte("h3")}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPinCandidates_RowError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, pin_hash FROM buckets`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pin_hash"}).
			AddRow("b2", []byte("h2")).
			RowError(0, errors.New("broken row")))

	if _, err := repo.PinCandidates(context.Background(), "", 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestListByCollaborator(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)WHERE active AND collaborators @> jsonb_build_array\(\$1::text\)`).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(protectedRow("b1")...).AddRow(protectedRow("b2")...))

	got, err := repo.ListByCollaborator(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b1" || got[1].ID != "b2" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestListByOwner_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE owner_id = \$1`).WithArgs("u1").WillReturnError(errors.New("boom"))

	if _, err := repo.ListByOwner(context.Background(), "u1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpdate_PartialPatch(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	name := "renamed"
	collab := []string{"x@example.com", "y@example.com"}

	mock.ExpectQuery(`(?s)UPDATE buckets SET\s+name = COALESCE\(\$2, name\).*WHERE id = \$1 AND active\s+RETURNING`).
		WithArgs("b1", name, nil, `["x@example.com","y@example.com"]`, nil, nil).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(protectedRow("b1")...))

	if _, err := repo.Update(context.Background(), "b1", models.BucketPatch{Name: &name, Collaborators: &collab}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdate_InactiveIsNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`UPDATE buckets SET`).WillReturnError(sql.ErrNoRows)

	if _, err := repo.Update(context.Background(), "b1", models.BucketPatch{}); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestDeactivateAndRestore(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE buckets SET active = FALSE, deleted_at = \$2, deletion_reason = \$3, updated_at = \$2\s+WHERE id = \$1 AND active`).
		WithArgs("b1", t0, models.DeletionReasonOwner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE buckets SET active = TRUE, deleted_at = NULL.*WHERE id = \$1 AND NOT active`).
		WithArgs("b1", t0.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE buckets SET active = TRUE`).
		WithArgs("b1", t0.Add(2*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if err := repo.Deactivate(ctx, "b1", models.DeletionReasonOwner, t0); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := repo.Restore(ctx, "b1", t0.Add(time.Hour)); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := repo.Restore(ctx, "b1", t0.Add(2*time.Hour)); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("second Restore: want ErrorNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeactivate_RowsAffectedErr(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE buckets SET active = FALSE`).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))

	err := repo.Deactivate(context.Background(), "b1", "owner", t0)
	if err == nil || !regexp.MustCompile(`rows affected error: .*rows-err`).MatchString(err.Error()) {
		t.Fatalf("expected rows affected error, got %v", err)
	}
}

func TestRecomputeStats(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)UPDATE buckets b SET\s+file_count = s.files,\s+byte_size = s.bytes\s+FROM \(.*FROM files WHERE bucket_id = \$1 AND active.*RETURNING b.file_count, b.byte_size`).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"file_count", "byte_size"}).AddRow(int64(4), int64(4096)))

	got, err := repo.RecomputeStats(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (models.UsageTotals{Files: 4, Bytes: 4096}) {
		t.Fatalf("got %+v", got)
	}
}

func TestSweepQueries(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	cutoff := t0.Add(-7 * 24 * time.Hour)
	mock.ExpectQuery(`SELECT id FROM buckets WHERE active AND created_at <= \$1`).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("b1").AddRow("b2"))
	mock.ExpectQuery(`SELECT id FROM buckets WHERE NOT active AND updated_at <= \$1`).
		WithArgs(t0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ctx := context.Background()
	expired, err := repo.ListExpiredActive(ctx, cutoff)
	if err != nil || !reflect.DeepEqual(expired, []string{"b1", "b2"}) {
		t.Fatalf("ListExpiredActive = %v, %v", expired, err)
	}
	stale, err := repo.ListStaleInactive(ctx, t0)
	if err != nil || len(stale) != 0 {
		t.Fatalf("ListStaleInactive = %v, %v", stale, err)
	}
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM buckets WHERE id = \$1`).WithArgs("b1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM buckets WHERE id = \$1`).WithArgs("b1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM buckets WHERE id = \$1`).WithArgs("b1").WillReturnError(errors.New("fk violation"))

	ctx := context.Background()
	if err := repo.Delete(ctx, "b1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "b1"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, "b1"); err == nil || !regexp.MustCompile(`db error: .*fk violation`).MatchString(err.Error()) {
		t.Fatalf("want wrapped db error, got %v", err)
	}
}
