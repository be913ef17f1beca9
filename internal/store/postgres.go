package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the Postgres SQLSTATE for a unique constraint hit.
const uniqueViolation = "23505"

// DatabaseConfig configures the record store connection.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// PostgresStore implements AssetStore with a Postgres record table and
// a blob payload store. The pkhash primary key makes Put race-free:
// two concurrent inserts for the same content resolve to exactly one
// success and one ErrDuplicateKey.
type PostgresStore struct {
	pool     *pgxpool.Pool
	payloads *PayloadStore
	log      *slog.Logger
}

// NewPostgresStore connects, applies the schema, and wires the payload
// backend.
func NewPostgresStore(ctx context.Context, cfg DatabaseConfig, payloads *PayloadStore) (*PostgresStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(connectCtx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &PostgresStore{
		pool:     pool,
		payloads: payloads,
		log:      slog.With("component", "store"),
	}
	s.log.Info("connected to asset record store")
	return s, nil
}

// Put writes payload and description to temp blob keys, inserts the
// record, then finalizes the blobs into their canonical keys. The
// insert is the atomic commit point: a duplicate pkhash aborts the
// temp blobs and returns ErrDuplicateKey with nothing left behind.
func (s *PostgresStore) Put(ctx context.Context, asset Asset, payload, description []byte) (*Asset, error) {
	payloadKey := s.payloads.PayloadKey(asset.Type, asset.PKHash)
	descKey := ""

	tempPayload, err := s.payloads.WriteTemp(ctx, payloadKey, payload)
	if err != nil {
		return nil, err
	}

	tempDesc := ""
	if len(description) > 0 {
		descKey = s.payloads.DescriptionKey(asset.Type, asset.PKHash)
		tempDesc, err = s.payloads.WriteTemp(ctx, descKey, description)
		if err != nil {
			s.payloads.Abort(ctx, tempPayload)
			return nil, err
		}
	}

	query := `
		INSERT INTO assets (pkhash, asset_type, owner_id, validated, payload_key, description_key)
		VALUES ($1, $2, $3, FALSE, $4, $5)
		RETURNING created_at
	`

	var createdAt time.Time
	err = s.pool.QueryRow(ctx, query,
		asset.PKHash, string(asset.Type), asset.Owner, payloadKey, descKey,
	).Scan(&createdAt)
	if err != nil {
		s.payloads.Abort(ctx, tempPayload, tempDesc)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, asset.PKHash)
		}
		return nil, fmt.Errorf("insert asset %s: %w", asset.PKHash, err)
	}

	if err := s.payloads.Finalize(ctx, tempPayload, payloadKey); err != nil {
		s.rollbackPut(ctx, asset.PKHash, tempPayload, tempDesc)
		return nil, err
	}
	if tempDesc != "" {
		if err := s.payloads.Finalize(ctx, tempDesc, descKey); err != nil {
			s.rollbackPut(ctx, asset.PKHash, "", tempDesc)
			s.payloads.Abort(ctx, payloadKey)
			return nil, err
		}
	}

	asset.Validated = false
	asset.PayloadKey = payloadKey
	asset.DescriptionKey = descKey
	asset.CreatedAt = createdAt
	return &asset, nil
}

// rollbackPut undoes a half-finished Put after a blob finalize failure.
func (s *PostgresStore) rollbackPut(ctx context.Context, pkhash string, tempKeys ...string) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM assets WHERE pkhash = $1`, pkhash); err != nil {
		s.log.Error("rollback record delete failed", "pkhash", pkhash, "error", err)
	}
	s.payloads.Abort(ctx, tempKeys...)
}

// Get returns the record for a pkhash.
func (s *PostgresStore) Get(ctx context.Context, pkhash string) (*Asset, error) {
	query := `
		SELECT pkhash, asset_type, owner_id, validated, payload_key, description_key, created_at
		FROM assets
		WHERE pkhash = $1
	`

	var a Asset
	var assetType string
	err := s.pool.QueryRow(ctx, query, pkhash).Scan(
		&a.PKHash, &assetType, &a.Owner, &a.Validated,
		&a.PayloadKey, &a.DescriptionKey, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, pkhash)
		}
		return nil, fmt.Errorf("get asset %s: %w", pkhash, err)
	}
	a.Type = AssetType(assetType)
	return &a, nil
}

// MarkValidated flags the ledger commit as confirmed. Idempotent.
func (s *PostgresStore) MarkValidated(ctx context.Context, pkhash string) error {
	_, err := s.pool.Exec(ctx, `UPDATE assets SET validated = TRUE WHERE pkhash = $1`, pkhash)
	if err != nil {
		return fmt.Errorf("mark validated %s: %w", pkhash, err)
	}
	return nil
}

// Delete removes the record and its payload blobs. Idempotent.
func (s *PostgresStore) Delete(ctx context.Context, pkhash string) error {
	query := `DELETE FROM assets WHERE pkhash = $1 RETURNING payload_key, description_key`

	var payloadKey, descKey string
	err := s.pool.QueryRow(ctx, query, pkhash).Scan(&payloadKey, &descKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("delete asset %s: %w", pkhash, err)
	}

	if err := s.payloads.Delete(ctx, payloadKey); err != nil {
		return err
	}
	return s.payloads.Delete(ctx, descKey)
}

// UpdateOrCreate records ledger-resolved content as a validated cache
// entry. Safe to call repeatedly for the same pkhash.
func (s *PostgresStore) UpdateOrCreate(ctx context.Context, asset Asset, payload, description []byte) (*Asset, error) {
	payloadKey := ""
	if len(payload) > 0 {
		payloadKey = s.payloads.PayloadKey(asset.Type, asset.PKHash)
		if err := s.payloads.Write(ctx, payloadKey, payload); err != nil {
			return nil, err
		}
	}
	descKey := ""
	if len(description) > 0 {
		descKey = s.payloads.DescriptionKey(asset.Type, asset.PKHash)
		if err := s.payloads.Write(ctx, descKey, description); err != nil {
			return nil, err
		}
	}

	query := `
		INSERT INTO assets (pkhash, asset_type, owner_id, validated, payload_key, description_key)
		VALUES ($1, $2, $3, TRUE, $4, $5)
		ON CONFLICT (pkhash) DO UPDATE SET
			validated = TRUE,
			owner_id = EXCLUDED.owner_id,
			payload_key = CASE
				WHEN EXCLUDED.payload_key <> '' THEN EXCLUDED.payload_key
				ELSE assets.payload_key
			END,
			description_key = CASE
				WHEN EXCLUDED.description_key <> '' THEN EXCLUDED.description_key
				ELSE assets.description_key
			END
		RETURNING payload_key, description_key, created_at
	`

	err := s.pool.QueryRow(ctx, query,
		asset.PKHash, string(asset.Type), asset.Owner, payloadKey, descKey,
	).Scan(&asset.PayloadKey, &asset.DescriptionKey, &asset.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("update or create %s: %w", asset.PKHash, err)
	}

	asset.Validated = true
	return &asset, nil
}

// Payload returns the cached payload bytes.
func (s *PostgresStore) Payload(ctx context.Context, pkhash string) ([]byte, error) {
	a, err := s.Get(ctx, pkhash)
	if err != nil {
		return nil, err
	}
	return s.payloads.Read(ctx, a.PayloadKey)
}

// Description returns the cached description bytes.
func (s *PostgresStore) Description(ctx context.Context, pkhash string) ([]byte, error) {
	a, err := s.Get(ctx, pkhash)
	if err != nil {
		return nil, err
	}
	if a.DescriptionKey == "" {
		return nil, fmt.Errorf("%w: no description for %s", ErrNotFound, pkhash)
	}
	return s.payloads.Read(ctx, a.DescriptionKey)
}

// ListUnvalidated returns pending records older than the given age.
func (s *PostgresStore) ListUnvalidated(ctx context.Context, olderThan time.Duration) ([]Asset, error) {
	query := `
		SELECT pkhash, asset_type, owner_id, validated, payload_key, description_key, created_at
		FROM assets
		WHERE NOT validated AND created_at < NOW() - $1::interval
		ORDER BY created_at
	`

	interval := fmt.Sprintf("%d seconds", int64(olderThan.Seconds()))
	rows, err := s.pool.Query(ctx, query, interval)
	if err != nil {
		return nil, fmt.Errorf("list unvalidated: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		var assetType string
		if err := rows.Scan(&a.PKHash, &assetType, &a.Owner, &a.Validated,
			&a.PayloadKey, &a.DescriptionKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan unvalidated: %w", err)
		}
		a.Type = AssetType(assetType)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// Close releases database and blob resources.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return s.payloads.Close()
}

var _ AssetStore = (*PostgresStore)(nil)
