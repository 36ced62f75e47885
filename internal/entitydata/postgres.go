package entitydata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"offersearch/api/internal/model"
)

// Open connects to PostgreSQL through the pgx database/sql driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// table describes where one entity kind lives. Entities are stored as a jsonb
// payload next to their indexed key columns.
type table struct {
	name string
	// foreign maps a payload field name to its indexed column.
	foreign map[string]string
}

var tables = map[model.EntityKind]table{
	model.KindOffer:     {name: "offers", foreign: map[string]string{"sellerId": "seller_id"}},
	model.KindPurchase:  {name: "purchases", foreign: map[string]string{"offerId": "offer_id", "buyerId": "buyer_id"}},
	model.KindTransport: {name: "transports", foreign: map[string]string{"purchaseId": "purchase_id", "carrierId": "carrier_id"}},
	model.KindSeller:    {name: "sellers"},
	model.KindBuyer:     {name: "buyers"},
	model.KindCarrier:   {name: "carriers"},
}

// Postgres reads upstream entities from a replicated PostgreSQL schema. It is
// read-only; the owning services write those tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Get(ctx context.Context, kind model.EntityKind, id model.ID) (json.RawMessage, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	var payload []byte
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, t.name)
	err := p.db.QueryRowContext(ctx, query, id.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s %s: %w", kind, id, err)
	}
	return json.RawMessage(payload), nil
}

func (p *Postgres) ListByForeignKey(ctx context.Context, kind model.EntityKind, field string, id model.ID) ([]json.RawMessage, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	column, ok := t.foreign[field]
	if !ok {
		return nil, fmt.Errorf("%s has no foreign key %q", kind, field)
	}
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE %s = $1 ORDER BY id`, t.name, column)
	rows, err := p.db.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("select %s by %s: %w", kind, field, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return out, nil
}
