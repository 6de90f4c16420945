package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/tumapay/tuma/model"
)

func TestSumPostedEntries_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("acc_1", "KES", model.EntryStatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow(int64(4600), int64(2)))

	sum, count, err := ds.SumPostedEntries(context.Background(), "acc_1", "KES")
	assert.NoError(t, err)
	assert.Equal(t, int64(4600), sum)
	assert.Equal(t, int64(2), count)
}

func TestSumPostedEntries_EmptyLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("acc_new", "KES", model.EntryStatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow(int64(0), int64(0)))

	sum, count, err := ds.SumPostedEntries(context.Background(), "acc_new", "KES")
	assert.NoError(t, err)
	assert.Zero(t, sum)
	assert.Zero(t, count)
}

func TestGetPostedEntriesPaginated_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{"id", "entry_id", "account_id", "transaction_id", "kind", "amount", "balance_before", "balance_after", "currency", "status", "created_by", "reference", "description", "meta_data", "created_at"}).
		AddRow(1, "lde_1", "acc_1", "txn_1", "payment", int64(5000), int64(0), int64(5000), "KES", "completed", "system", "", "payment settled", nil, time.Now())

	mock.ExpectQuery("SELECT .* FROM tuma.ledger_entries").
		WithArgs("acc_1", "KES", model.EntryStatusCompleted, 50, int64(0)).
		WillReturnRows(rows)

	entries, err := ds.GetPostedEntriesPaginated(context.Background(), "acc_1", "KES", 50, 0)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int64(5000), entries[0].Amount)
}
