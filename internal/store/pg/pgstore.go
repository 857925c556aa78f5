// Package pg persists quotes, items, audit trails and the technician
// directory in PostgreSQL. Every workflow transition runs as one
// serializable transaction holding a row lock on the quote, so token
// consumption, financial effects and the audit append commit or roll back
// together.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/audit"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/quote"
)

type Store struct {
	db *sql.DB
}

var (
	_ quote.Store               = (*Store)(nil)
	_ quote.TechnicianDirectory = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool (used by tests).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const quoteColumns = `
	id, account_id, sidemark, source_task_id, technician_id, status,
	labor_hours, labor_rate_cents, materials_cents, tech_total_cents,
	markup_applied, customer_total_cents, tech_notes, decline_reason,
	tech_token_id, tech_token_used, client_token_id, client_token_used,
	created_at, token_expires_at, tech_submitted_at, approved_at,
	declined_at, closed_at, version`

func (s *Store) CreateQuote(ctx context.Context, q quote.RepairQuote, e audit.Entry) (quote.RepairQuote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return quote.RepairQuote{}, err
	}
	defer func() { _ = tx.Rollback() }()

	q.Version = 1
	if _, err := tx.ExecContext(ctx, `
		insert into quotes(
			id, account_id, sidemark, source_task_id, status, created_at, version
		) values ($1,$2,nullif($3,''),nullif($4,''),$5,$6,$7)
	`, q.ID, q.AccountID, q.Sidemark, q.SourceTaskID, string(q.Status), q.CreatedAt, q.Version); err != nil {
		return quote.RepairQuote{}, err
	}

	for _, item := range q.Items {
		photos, err := json.Marshal(photoRefsOrEmpty(item.PhotoRefs))
		if err != nil {
			return quote.RepairQuote{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into quote_items(
				id, quote_id, item_id, damage_description, photo_refs,
				allocated_tech_cents, allocated_customer_cents, position
			) values ($1,$2,$3,nullif($4,''),$5,$6,$7,$8)
		`, item.ID, q.ID, item.ItemID, item.DamageDescription, photos,
			item.AllocatedTechCents, item.AllocatedCustomerCents, item.Position); err != nil {
			return quote.RepairQuote{}, err
		}
	}

	if err := insertAudit(ctx, tx, e); err != nil {
		return quote.RepairQuote{}, err
	}
	if err := tx.Commit(); err != nil {
		return quote.RepairQuote{}, err
	}
	return q, nil
}

func (s *Store) GetQuote(ctx context.Context, id string) (quote.RepairQuote, error) {
	row := s.db.QueryRowContext(ctx, `select `+quoteColumns+` from quotes where id=$1`, id)
	q, err := scanQuote(row)
	if err != nil {
		return quote.RepairQuote{}, err
	}
	items, err := s.loadItems(ctx, s.db, id)
	if err != nil {
		return quote.RepairQuote{}, err
	}
	q.Items = items
	return q, nil
}

func (s *Store) UpdateQuote(ctx context.Context, id string, fn func(*quote.RepairQuote) (audit.Entry, error)) (quote.RepairQuote, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return quote.RepairQuote{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock: concurrent transitions against the same quote serialize
	// here, so the loser of a token race observes the consumed state.
	row := tx.QueryRowContext(ctx, `select `+quoteColumns+` from quotes where id=$1 for update`, id)
	q, err := scanQuote(row)
	if err != nil {
		return quote.RepairQuote{}, err
	}
	items, err := s.loadItems(ctx, tx, id)
	if err != nil {
		return quote.RepairQuote{}, err
	}
	q.Items = items

	e, err := fn(&q)
	if err != nil {
		return quote.RepairQuote{}, err
	}
	q.Version++

	if _, err := tx.ExecContext(ctx, `
		update quotes set
			technician_id=nullif($2,''), status=$3,
			labor_hours=$4, labor_rate_cents=$5, materials_cents=$6,
			tech_total_cents=$7, markup_applied=$8, customer_total_cents=$9,
			tech_notes=nullif($10,''), decline_reason=nullif($11,''),
			tech_token_id=nullif($12,''), tech_token_used=$13,
			client_token_id=nullif($14,''), client_token_used=$15,
			token_expires_at=$16, tech_submitted_at=$17, approved_at=$18,
			declined_at=$19, closed_at=$20, version=$21
		where id=$1
	`, q.ID, q.TechnicianID, string(q.Status),
		q.LaborHours, q.LaborRateCents, q.MaterialsCents,
		q.TechTotalCents, q.MarkupApplied, q.CustomerTotalCents,
		q.TechNotes, q.DeclineReason,
		q.TechTokenID, q.TechTokenUsed,
		q.ClientTokenID, q.ClientTokenUsed,
		q.TokenExpiresAt, q.TechSubmittedAt, q.ApprovedAt,
		q.DeclinedAt, q.ClosedAt, q.Version); err != nil {
		return quote.RepairQuote{}, translateErr(err)
	}

	for _, item := range q.Items {
		if _, err := tx.ExecContext(ctx, `
			update quote_items set allocated_tech_cents=$2, allocated_customer_cents=$3
			where id=$1
		`, item.ID, item.AllocatedTechCents, item.AllocatedCustomerCents); err != nil {
			return quote.RepairQuote{}, translateErr(err)
		}
	}

	if err := insertAudit(ctx, tx, e); err != nil {
		return quote.RepairQuote{}, translateErr(err)
	}
	if err := tx.Commit(); err != nil {
		return quote.RepairQuote{}, translateErr(err)
	}
	return q, nil
}

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertAudit(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListAudit(ctx context.Context, quoteID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, quote_id, seq, action, at, coalesce(by_id,''), coalesce(by_name,''), by_role, details
		from quote_audit
		where quote_id=$1
		order by seq asc
		limit $2
	`, quoteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.QuoteID, &e.Seq, &e.Action, &e.At, &e.ByID, &e.ByName, &e.ByRole, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetTechnician(ctx context.Context, id string) (quote.Technician, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, coalesce(email,''), coalesce(phone,''), markup_percent, active
		from technicians where id=$1
	`, id)
	var t quote.Technician
	if err := row.Scan(&t.ID, &t.Name, &t.Email, &t.Phone, &t.MarkupPercent, &t.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quote.Technician{}, quote.ErrNotFound
		}
		return quote.Technician{}, err
	}
	return t, nil
}

func (s *Store) ListActiveTechnicians(ctx context.Context) ([]quote.Technician, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, coalesce(email,''), coalesce(phone,''), markup_percent, active
		from technicians where active order by name asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []quote.Technician
	for rows.Next() {
		var t quote.Technician
		if err := rows.Scan(&t.ID, &t.Name, &t.Email, &t.Phone, &t.MarkupPercent, &t.Active); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- helpers ---

type execQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) loadItems(ctx context.Context, q execQuerier, quoteID string) ([]quote.RepairQuoteItem, error) {
	rows, err := q.QueryContext(ctx, `
		select id, quote_id, item_id, coalesce(damage_description,''), photo_refs,
		       allocated_tech_cents, allocated_customer_cents, position
		from quote_items
		where quote_id=$1
		order by position asc
	`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []quote.RepairQuoteItem
	for rows.Next() {
		var item quote.RepairQuoteItem
		var photos []byte
		if err := rows.Scan(&item.ID, &item.QuoteID, &item.ItemID, &item.DamageDescription, &photos,
			&item.AllocatedTechCents, &item.AllocatedCustomerCents, &item.Position); err != nil {
			return nil, err
		}
		if len(photos) > 0 {
			if err := json.Unmarshal(photos, &item.PhotoRefs); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQuote(row *sql.Row) (quote.RepairQuote, error) {
	var (
		q            quote.RepairQuote
		status       string
		sidemark     sql.NullString
		sourceTask   sql.NullString
		technicianID sql.NullString
		techNotes    sql.NullString
		declineRsn   sql.NullString
		techToken    sql.NullString
		clientToken  sql.NullString
	)
	err := row.Scan(
		&q.ID, &q.AccountID, &sidemark, &sourceTask, &technicianID, &status,
		&q.LaborHours, &q.LaborRateCents, &q.MaterialsCents, &q.TechTotalCents,
		&q.MarkupApplied, &q.CustomerTotalCents, &techNotes, &declineRsn,
		&techToken, &q.TechTokenUsed, &clientToken, &q.ClientTokenUsed,
		&q.CreatedAt, &q.TokenExpiresAt, &q.TechSubmittedAt, &q.ApprovedAt,
		&q.DeclinedAt, &q.ClosedAt, &q.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return quote.RepairQuote{}, quote.ErrNotFound
	}
	if err != nil {
		return quote.RepairQuote{}, err
	}
	q.Status = quote.Status(status)
	q.Sidemark = sidemark.String
	q.SourceTaskID = sourceTask.String
	q.TechnicianID = technicianID.String
	q.TechNotes = techNotes.String
	q.DeclineReason = declineRsn.String
	q.TechTokenID = techToken.String
	q.ClientTokenID = clientToken.String
	return q, nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, e audit.Entry) error {
	details, err := json.Marshal(detailsOrEmpty(e.Details))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into quote_audit(id, quote_id, seq, action, at, by_id, by_name, by_role, details)
		values (
			$1, $2,
			(select coalesce(max(seq),0)+1 from quote_audit where quote_id=$2),
			$3, $4, nullif($5,''), nullif($6,''), $7, $8
		)
	`, e.ID, e.QuoteID, e.Action, e.At, e.ByID, e.ByName, e.ByRole, details)
	return err
}

func detailsOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func photoRefsOrEmpty(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}

// translateErr maps serialization failures onto the workflow's concurrency
// error so callers can retry or surface it as a lost race.
func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return quote.ErrConcurrencyLost
		}
	}
	return err
}
