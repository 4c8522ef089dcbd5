package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kambafy/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies embedded migrations that are not yet recorded in schema_migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, name).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

const registrationColumns = `id::text, owner_id, COALESCE(resource_id,''), url, events, COALESCE(secret,''), headers, timeout_seconds, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (model.Registration, error) {
	var r model.Registration
	var events, headers []byte
	if err := row.Scan(&r.ID, &r.OwnerID, &r.ResourceID, &r.URL, &events, &r.Secret, &headers, &r.TimeoutSeconds, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return model.Registration{}, err
	}
	if err := json.Unmarshal(events, &r.Events); err != nil {
		return model.Registration{}, fmt.Errorf("decode events: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &r.Headers); err != nil {
			return model.Registration{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	return r, nil
}

func encodeRegistrationJSON(r model.Registration) ([]byte, []byte) {
	events := r.Events
	if events == nil {
		events = []string{}
	}
	headers := r.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	ev, _ := json.Marshal(events)
	hd, _ := json.Marshal(headers)
	return ev, hd
}

func (p *Postgres) CreateRegistration(ctx context.Context, in model.RegistrationInput) (model.Registration, error) {
	if in.OwnerID == "" {
		return model.Registration{}, errors.New("ownerId required")
	}
	timeout := in.TimeoutSeconds
	if timeout <= 0 {
		timeout = model.DefaultTimeoutSeconds
	}
	r := model.Registration{
		ID:             uuid.New().String(),
		OwnerID:        in.OwnerID,
		ResourceID:     in.ResourceID,
		URL:            in.URL,
		Events:         in.Events,
		Secret:         in.Secret,
		Headers:        in.Headers,
		TimeoutSeconds: timeout,
		Active:         in.Active == nil || *in.Active,
	}
	ev, hd := encodeRegistrationJSON(r)
	row := p.db.QueryRowContext(ctx, `INSERT INTO webhook_registrations (id, owner_id, resource_id, url, events, secret, headers, timeout_seconds, active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING created_at, updated_at`,
		r.ID, r.OwnerID, nullIfEmpty(r.ResourceID), r.URL, ev, nullIfEmpty(r.Secret), hd, r.TimeoutSeconds, r.Active)
	if err := row.Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return model.Registration{}, err
	}
	return r, nil
}

func (p *Postgres) GetRegistration(ctx context.Context, ownerID, id string) (model.Registration, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Registration{}, ErrNotFound
	}
	r, err := scanRegistration(p.db.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM webhook_registrations WHERE owner_id=$1 AND id=$2`, ownerID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Registration{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) ListRegistrations(ctx context.Context, ownerID, cursor string, limit int) ([]model.Registration, string, error) {
	limit = clampLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+registrationColumns+` FROM webhook_registrations WHERE owner_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, ownerID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+registrationColumns+` FROM webhook_registrations WHERE owner_id=$1 ORDER BY id LIMIT $2`, ownerID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Registration{}
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) UpdateRegistration(ctx context.Context, ownerID, id string, patch model.RegistrationPatch) (model.Registration, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Registration{}, ErrNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Registration{}, err
	}
	defer func() { _ = tx.Rollback() }()
	r, err := scanRegistration(tx.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM webhook_registrations WHERE owner_id=$1 AND id=$2 FOR UPDATE`, ownerID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Registration{}, ErrNotFound
	}
	if err != nil {
		return model.Registration{}, err
	}
	patch.Apply(&r)
	ev, hd := encodeRegistrationJSON(r)
	err = tx.QueryRowContext(ctx, `UPDATE webhook_registrations SET url=$3, events=$4, secret=$5, headers=$6, timeout_seconds=$7, active=$8, updated_at=now()
        WHERE owner_id=$1 AND id=$2 RETURNING updated_at`,
		ownerID, id, r.URL, ev, nullIfEmpty(r.Secret), hd, r.TimeoutSeconds, r.Active).Scan(&r.UpdatedAt)
	if err != nil {
		return model.Registration{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Registration{}, err
	}
	return r, nil
}

func (p *Postgres) DeleteRegistration(ctx context.Context, ownerID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_registrations WHERE owner_id=$1 AND id=$2`, ownerID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ActiveRegistrations(ctx context.Context, ownerID, resourceID string) ([]model.Registration, error) {
	var rows *sql.Rows
	var err error
	if resourceID != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+registrationColumns+` FROM webhook_registrations
            WHERE owner_id=$1 AND active AND (resource_id IS NULL OR resource_id=$2) ORDER BY created_at, id`, ownerID, resourceID)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+registrationColumns+` FROM webhook_registrations
            WHERE owner_id=$1 AND active AND resource_id IS NULL ORDER BY created_at, id`, ownerID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) ResourceOwner(ctx context.Context, productID string) (string, error) {
	var owner string
	err := p.db.QueryRowContext(ctx, `SELECT owner_id FROM products WHERE id=$1`, productID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return owner, err
}

func (p *Postgres) OrderResource(ctx context.Context, orderID string) (string, string, error) {
	var productID, owner string
	err := p.db.QueryRowContext(ctx, `SELECT o.product_id, p.owner_id FROM orders o JOIN products p ON p.id = o.product_id WHERE o.id=$1`, orderID).Scan(&productID, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return productID, owner, err
}

func (p *Postgres) AppendDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	payload := []byte(a.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_delivery_attempts
        (id, registration_id, owner_id, event_name, url, payload, response_status, response_body_excerpt, success, error, duration_ms, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.RegistrationID, a.OwnerID, a.EventName, a.URL, payload, a.ResponseStatus,
		nullIfEmpty(a.ResponseBodyExcerpt), a.Success, nullIfEmpty(a.Error), a.DurationMs, a.OccurredAt)
	return err
}

func (p *Postgres) ListDeliveryAttempts(ctx context.Context, ownerID string, f model.DeliveryFilter, cursor string, limit int) ([]model.DeliveryAttempt, string, error) {
	limit = clampLimit(limit)
	q := `SELECT id::text, registration_id::text, owner_id, event_name, url, payload, response_status, COALESCE(response_body_excerpt,''), success, COALESCE(error,''), duration_ms, occurred_at
        FROM webhook_delivery_attempts WHERE owner_id=$1`
	args := []any{ownerID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.EventName != "" {
		q += ` AND event_name=` + arg(f.EventName)
	}
	if f.RegistrationID != "" {
		q += ` AND registration_id::text=` + arg(f.RegistrationID)
	}
	switch f.Status {
	case "success":
		q += ` AND success`
	case "failed":
		q += ` AND NOT success`
	}
	if cursor != "" {
		c := arg(cursor)
		q += ` AND (occurred_at, id) < (SELECT occurred_at, id FROM webhook_delivery_attempts WHERE id::text=` + c + `)`
	}
	q += ` ORDER BY occurred_at DESC, id DESC LIMIT ` + arg(limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.DeliveryAttempt{}
	for rows.Next() {
		var a model.DeliveryAttempt
		var payload []byte
		if err := rows.Scan(&a.ID, &a.RegistrationID, &a.OwnerID, &a.EventName, &a.URL, &payload, &a.ResponseStatus, &a.ResponseBodyExcerpt, &a.Success, &a.Error, &a.DurationMs, &a.OccurredAt); err != nil {
			return nil, "", err
		}
		a.Payload = payload
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) DeliveryStats(ctx context.Context, ownerID string, since time.Time, eventName string) ([]model.DeliveryStat, error) {
	q := `SELECT event_name, success, COUNT(*), COALESCE(AVG(duration_ms),0)::bigint,
        SUM(CASE WHEN response_status BETWEEN 200 AND 299 THEN 1 ELSE 0 END),
        SUM(CASE WHEN response_status BETWEEN 300 AND 399 THEN 1 ELSE 0 END),
        SUM(CASE WHEN response_status BETWEEN 400 AND 499 THEN 1 ELSE 0 END),
        SUM(CASE WHEN response_status BETWEEN 500 AND 599 THEN 1 ELSE 0 END),
        SUM(CASE WHEN response_status = 0 THEN 1 ELSE 0 END)
        FROM webhook_delivery_attempts WHERE owner_id=$1 AND occurred_at >= $2`
	args := []any{ownerID, since}
	if eventName != "" {
		q += ` AND event_name=$3`
		args = append(args, eventName)
	}
	q += ` GROUP BY event_name, success ORDER BY event_name, success DESC`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryStat{}
	for rows.Next() {
		var s model.DeliveryStat
		var c2, c3, c4, c5, none int64
		if err := rows.Scan(&s.EventName, &s.Success, &s.Count, &s.AvgLatencyMs, &c2, &c3, &c4, &c5, &none); err != nil {
			return nil, err
		}
		s.CodeClasses = map[string]int64{}
		for k, v := range map[string]int64{"c2xx": c2, "c3xx": c3, "c4xx": c4, "c5xx": c5, "none": none} {
			if v > 0 {
				s.CodeClasses[k] = v
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) GetPartnerPayment(ctx context.Context, id string) (model.PartnerPayment, error) {
	var pp model.PartnerPayment
	var metadata []byte
	var notifiedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `SELECT pp.id, pp.partner_id, pp.order_id, pp.amount, pp.currency, pp.status, COALESCE(pp.customer_email,''), pp.metadata, pp.created_at,
        COALESCE(pr.webhook_url,''), COALESCE(pr.webhook_secret,''),
        pp.webhook_delivered, pp.webhook_attempts, COALESCE(pp.webhook_last_error,''), COALESCE(pp.webhook_last_status,0), pp.webhook_notified_at
        FROM partner_payments pp JOIN partners pr ON pr.id = pp.partner_id WHERE pp.id=$1`, id).Scan(
		&pp.ID, &pp.PartnerID, &pp.OrderID, &pp.Amount, &pp.Currency, &pp.Status, &pp.CustomerEmail, &metadata, &pp.CreatedAt,
		&pp.PartnerWebhookURL, &pp.PartnerWebhookSecret,
		&pp.WebhookDelivered, &pp.WebhookAttempts, &pp.WebhookLastError, &pp.WebhookLastStatus, &notifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PartnerPayment{}, ErrNotFound
	}
	if err != nil {
		return model.PartnerPayment{}, err
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &pp.Metadata)
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		pp.WebhookNotifiedAt = &t
	}
	return pp, nil
}

func (p *Postgres) RecordPartnerNotification(ctx context.Context, n model.PartnerNotification) error {
	res, err := p.db.ExecContext(ctx, `UPDATE partner_payments SET webhook_delivered=$2, webhook_attempts=$3, webhook_last_error=$4, webhook_last_status=$5, webhook_notified_at=$6 WHERE id=$1`,
		n.PaymentID, n.Delivered, n.Attempts, nullIfEmpty(n.LastError), nullIfZero(n.LastStatus), n.NotifiedAt)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
