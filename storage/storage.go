package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"eurovault/core/types"
	"eurovault/native/oracle"
	"eurovault/native/vault"
)

// Storage wraps the daemon's persistence layer.
type Storage struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("storage path must be configured")

// Open initialises the backing store using an sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS feed_state (
    backend TEXT PRIMARY KEY,
    last_price TEXT NOT NULL,
    last_update_time INTEGER NOT NULL,
    last_update_block INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS vault_state (
    id TEXT PRIMARY KEY,
    total_collateral TEXT NOT NULL,
    total_issued TEXT NOT NULL,
    accrued_mint_fees TEXT NOT NULL,
    accrued_redeem_fees TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(event_type, recorded_at);
`

const vaultStateID = "vault"

// FeedStateRecord is the persisted shape of a validator's accepted state.
type FeedStateRecord struct {
	Backend         string
	LastPrice       *uint256.Int
	LastUpdateTime  time.Time
	LastUpdateBlock uint64
}

// SaveFeedState upserts the last accepted price for the named backend.
func (s *Storage) SaveFeedState(ctx context.Context, backend string, state oracle.FeedState) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	backend = strings.TrimSpace(backend)
	if backend == "" {
		return fmt.Errorf("backend name required")
	}
	if state.LastValidPrice == nil {
		return fmt.Errorf("feed state missing price")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO feed_state(backend, last_price, last_update_time, last_update_block, updated_at)
        VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(backend) DO UPDATE SET
            last_price=excluded.last_price,
            last_update_time=excluded.last_update_time,
            last_update_block=excluded.last_update_block,
            updated_at=CURRENT_TIMESTAMP
    `, backend, state.LastValidPrice.Dec(), state.LastUpdateTime.UTC().Unix(), state.LastUpdateBlock)
	if err != nil {
		return fmt.Errorf("save feed state: %w", err)
	}
	return nil
}

// LoadFeedState returns the persisted state for the named backend, reporting
// false when none has been recorded.
func (s *Storage) LoadFeedState(ctx context.Context, backend string) (FeedStateRecord, bool, error) {
	record := FeedStateRecord{Backend: strings.TrimSpace(backend)}
	if s == nil {
		return record, false, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT last_price, last_update_time, last_update_block
        FROM feed_state
        WHERE backend = ?
    `, record.Backend)
	var price string
	var updateTime int64
	if err := row.Scan(&price, &updateTime, &record.LastUpdateBlock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record, false, nil
		}
		return record, false, fmt.Errorf("query feed state: %w", err)
	}
	parsed, err := uint256.FromDecimal(strings.TrimSpace(price))
	if err != nil {
		return record, false, fmt.Errorf("parse feed price: %w", err)
	}
	record.LastPrice = parsed
	record.LastUpdateTime = time.Unix(updateTime, 0).UTC()
	return record, true, nil
}

// SaveVaultState persists the vault totals. Implements vault.StateStore.
func (s *Storage) SaveVaultState(ctx context.Context, state vault.State) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO vault_state(id, total_collateral, total_issued, accrued_mint_fees, accrued_redeem_fees, updated_at)
        VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(id) DO UPDATE SET
            total_collateral=excluded.total_collateral,
            total_issued=excluded.total_issued,
            accrued_mint_fees=excluded.accrued_mint_fees,
            accrued_redeem_fees=excluded.accrued_redeem_fees,
            updated_at=CURRENT_TIMESTAMP
    `, vaultStateID,
		amountText(state.TotalCollateral),
		amountText(state.TotalIssued),
		amountText(state.AccruedMintFees),
		amountText(state.AccruedRedeemFees))
	if err != nil {
		return fmt.Errorf("save vault state: %w", err)
	}
	return nil
}

// LoadVaultState returns the persisted vault totals, reporting false when the
// store is empty. Implements vault.StateStore.
func (s *Storage) LoadVaultState(ctx context.Context) (vault.State, bool, error) {
	state := vault.State{}
	if s == nil {
		return state, false, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT total_collateral, total_issued, accrued_mint_fees, accrued_redeem_fees
        FROM vault_state
        WHERE id = ?
    `, vaultStateID)
	var collateral, issued, mintFees, redeemFees string
	if err := row.Scan(&collateral, &issued, &mintFees, &redeemFees); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state, false, nil
		}
		return state, false, fmt.Errorf("query vault state: %w", err)
	}
	var err error
	if state.TotalCollateral, err = amountValue(collateral); err != nil {
		return state, false, fmt.Errorf("parse total collateral: %w", err)
	}
	if state.TotalIssued, err = amountValue(issued); err != nil {
		return state, false, fmt.Errorf("parse total issued: %w", err)
	}
	if state.AccruedMintFees, err = amountValue(mintFees); err != nil {
		return state, false, fmt.Errorf("parse mint fees: %w", err)
	}
	if state.AccruedRedeemFees, err = amountValue(redeemFees); err != nil {
		return state, false, fmt.Errorf("parse redeem fees: %w", err)
	}
	return state, true, nil
}

// EventRecord is a journaled module event.
type EventRecord struct {
	ID         string
	Type       string
	Attributes map[string]string
	RecordedAt time.Time
}

// AppendEvent journals a module event with a fresh identifier.
func (s *Storage) AppendEvent(ctx context.Context, evt *types.Event) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return fmt.Errorf("event type required")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO events(id, event_type, attributes, recorded_at)
        VALUES(?, ?, ?, ?)
    `, uuid.NewString(), evt.Type, string(attrs), time.Now().UTC()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent journaled events, newest first. A
// non-empty eventType filters by type; limit caps the result set.
func (s *Storage) ListEvents(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT id, event_type, attributes, recorded_at
        FROM events
    `
	args := []any{}
	if trimmed := strings.TrimSpace(eventType); trimmed != "" {
		query += ` WHERE event_type = ?`
		args = append(args, trimmed)
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		var attrs string
		if err := rows.Scan(&rec.ID, &rec.Type, &attrs, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func amountValue(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", trimmed)
	}
	return value, nil
}
