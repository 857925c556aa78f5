package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/audit"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/quote"
)

var quoteCols = []string{
	"id", "account_id", "sidemark", "source_task_id", "technician_id", "status",
	"labor_hours", "labor_rate_cents", "materials_cents", "tech_total_cents",
	"markup_applied", "customer_total_cents", "tech_notes", "decline_reason",
	"tech_token_id", "tech_token_used", "client_token_id", "client_token_used",
	"created_at", "token_expires_at", "tech_submitted_at", "approved_at",
	"declined_at", "closed_at", "version",
}

var itemCols = []string{
	"id", "quote_id", "item_id", "damage_description", "photo_refs",
	"allocated_tech_cents", "allocated_customer_cents", "position",
}

func addQuoteRow(rows *sqlmock.Rows, id string, status quote.Status, version int64) *sqlmock.Rows {
	return rows.AddRow(
		id, "acct-1", "Johnson / Living Room", nil, "tech-1", string(status),
		2.0, int64(5000), int64(2500), int64(12500),
		20.0, int64(15000), nil, nil,
		"tok-1", false, nil, false,
		time.Now().UTC(), nil, nil, nil,
		nil, nil, version,
	)
}

func TestGetQuote(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`select (.+) from quotes where id=\$1`).
		WithArgs("q1").
		WillReturnRows(addQuoteRow(sqlmock.NewRows(quoteCols), "q1", quote.StatusSentToTech, 3))
	mock.ExpectQuery(`from quote_items`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow("i1", "q1", "item-1", "water ring", []byte(`["photo-1"]`), int64(0), int64(0), 0))

	s := NewStore(db)
	q, err := s.GetQuote(context.Background(), "q1")
	require.NoError(t, err)

	assert.Equal(t, "q1", q.ID)
	assert.Equal(t, quote.StatusSentToTech, q.Status)
	assert.Equal(t, "tech-1", q.TechnicianID)
	assert.Equal(t, "tok-1", q.TechTokenID)
	require.Len(t, q.Items, 1)
	assert.Equal(t, []string{"photo-1"}, q.Items[0].PhotoRefs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQuoteNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`select (.+) from quotes where id=\$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(quoteCols))

	s := NewStore(db)
	_, err = s.GetQuote(context.Background(), "missing")
	assert.ErrorIs(t, err, quote.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateQuote(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`insert into quotes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into quote_items`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into quote_audit`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewStore(db)
	q := quote.RepairQuote{
		ID:        "q1",
		AccountID: "acct-1",
		Status:    quote.StatusDraft,
		CreatedAt: time.Now().UTC(),
		Items:     []quote.RepairQuoteItem{{ID: "i1", QuoteID: "q1", ItemID: "item-1"}},
	}
	e := audit.New("q1", quote.ActionQuoteCreated, "u1", "Dispatcher", audit.RoleStaff, nil)

	created, err := s.CreateQuote(context.Background(), q, e)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateQuoteAppliesMutation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`select (.+) from quotes where id=\$1 for update`).
		WithArgs("q1").
		WillReturnRows(addQuoteRow(sqlmock.NewRows(quoteCols), "q1", quote.StatusUnderReview, 4))
	mock.ExpectQuery(`from quote_items`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows(itemCols))
	mock.ExpectExec(`update quotes set`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into quote_audit`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewStore(db)
	q, err := s.UpdateQuote(context.Background(), "q1", func(q *quote.RepairQuote) (audit.Entry, error) {
		q.Status = quote.StatusClosed
		return audit.New(q.ID, quote.ActionClosed, "u1", "", audit.RoleStaff, nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, quote.StatusClosed, q.Status)
	assert.Equal(t, int64(5), q.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateQuoteRollsBackOnGuardError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`select (.+) from quotes where id=\$1 for update`).
		WithArgs("q1").
		WillReturnRows(addQuoteRow(sqlmock.NewRows(quoteCols), "q1", quote.StatusClosed, 9))
	mock.ExpectQuery(`from quote_items`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows(itemCols))
	mock.ExpectRollback()

	s := NewStore(db)
	_, err = s.UpdateQuote(context.Background(), "q1", func(q *quote.RepairQuote) (audit.Entry, error) {
		return audit.Entry{}, quote.ErrInvalidTransition
	})
	assert.ErrorIs(t, err, quote.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateQuoteSerializationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`select (.+) from quotes where id=\$1 for update`).
		WithArgs("q1").
		WillReturnRows(addQuoteRow(sqlmock.NewRows(quoteCols), "q1", quote.StatusSentToTech, 2))
	mock.ExpectQuery(`from quote_items`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows(itemCols))
	mock.ExpectExec(`update quotes set`).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	s := NewStore(db)
	_, err = s.UpdateQuote(context.Background(), "q1", func(q *quote.RepairQuote) (audit.Entry, error) {
		q.Status = quote.StatusTechSubmitted
		return audit.New(q.ID, quote.ActionTechSubmitted, "", "", audit.RoleExternalTechnician, nil), nil
	})
	assert.ErrorIs(t, err, quote.ErrConcurrencyLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`insert into quote_audit`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewStore(db)
	e := audit.New("q1", quote.ActionTransitionRejected, "u1", "", audit.RoleStaff, map[string]string{
		"operation": quote.ActionSentToClient,
		"guard":     quote.GuardNoCustomerTotal,
	})
	require.NoError(t, s.AppendAudit(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "quote_id", "seq", "action", "at", "by_id", "by_name", "by_role", "details"}).
		AddRow("a1", "q1", int64(1), quote.ActionQuoteCreated, time.Now().UTC(), "u1", "Dispatcher", audit.RoleStaff, []byte(`{"items":"2"}`)).
		AddRow("a2", "q1", int64(2), quote.ActionSentToTech, time.Now().UTC(), "u1", "Dispatcher", audit.RoleStaff, []byte(`{}`))
	mock.ExpectQuery(`from quote_audit`).
		WithArgs("q1", 200).
		WillReturnRows(rows)

	s := NewStore(db)
	trail, err := s.ListAudit(context.Background(), "q1", 0)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, int64(1), trail[0].Seq)
	assert.Equal(t, "2", trail[0].Details["items"])
	assert.Equal(t, quote.ActionSentToTech, trail[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveTechnicians(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name", "email", "phone", "markup_percent", "active"}).
		AddRow("t1", "Heritage Wood Restoration", "intake@heritage.example", "", 25.0, true).
		AddRow("t2", "Hill Country Upholstery", "", "", 20.0, true)
	mock.ExpectQuery(`from technicians where active`).
		WillReturnRows(rows)

	s := NewStore(db)
	techs, err := s.ListActiveTechnicians(context.Background())
	require.NoError(t, err)
	require.Len(t, techs, 2)
	assert.Equal(t, 25.0, techs[0].MarkupPercent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTechnicianNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`from technicians where id=\$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "phone", "markup_percent", "active"}))

	s := NewStore(db)
	_, err = s.GetTechnician(context.Background(), "missing")
	assert.ErrorIs(t, err, quote.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
