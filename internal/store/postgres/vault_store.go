package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// VaultStore implements domain.VaultStore using PostgreSQL. The protocol
// config lives in a single fixed row; positions are keyed by owner.
type VaultStore struct {
	pool *pgxpool.Pool
}

// NewVaultStore creates a new VaultStore backed by the given connection pool.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

const uniqueViolation = "23505"

// CreateConfig inserts the protocol singleton. It fails with
// ErrAlreadyExists when the protocol has already been initialized.
func (s *VaultStore) CreateConfig(ctx context.Context, cfg domain.ProtocolConfig) error {
	const query = `
		INSERT INTO protocol_config (
			id, admin, operator, treasury,
			total_shares, total_trading_deployed, accumulated_fees,
			performance_fee_bps, is_paused, last_fee_sweep, updated_at
		) VALUES (
			1, $1, $2, $3,
			$4, $5, $6,
			$7, $8, $9, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		cfg.Admin, cfg.Operator, cfg.Treasury,
		cfg.TotalShares, cfg.TotalTradingDeployed, cfg.AccumulatedFees,
		int16(cfg.PerformanceFeeBps), cfg.IsPaused, cfg.LastFeeSweep,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create protocol config: %w", err)
	}
	return nil
}

// GetConfig returns the protocol singleton.
func (s *VaultStore) GetConfig(ctx context.Context) (domain.ProtocolConfig, error) {
	const query = `
		SELECT admin, operator, treasury,
		       total_shares, total_trading_deployed, accumulated_fees,
		       performance_fee_bps, is_paused, last_fee_sweep, updated_at
		FROM protocol_config WHERE id = 1`

	var cfg domain.ProtocolConfig
	var feeBps int16
	err := s.pool.QueryRow(ctx, query).Scan(
		&cfg.Admin, &cfg.Operator, &cfg.Treasury,
		&cfg.TotalShares, &cfg.TotalTradingDeployed, &cfg.AccumulatedFees,
		&feeBps, &cfg.IsPaused, &cfg.LastFeeSweep, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProtocolConfig{}, domain.ErrNotFound
		}
		return domain.ProtocolConfig{}, fmt.Errorf("postgres: get protocol config: %w", err)
	}
	cfg.PerformanceFeeBps = uint16(feeBps)
	return cfg, nil
}

// CreatePosition inserts a fresh position for a first-time depositor.
func (s *VaultStore) CreatePosition(ctx context.Context, pos domain.UserPosition) error {
	const query = `
		INSERT INTO user_positions (
			owner, deposited_amount, user_shares, high_water_mark,
			last_fee_collection, lifetime_fees_paid, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`

	_, err := s.pool.Exec(ctx, query,
		pos.Owner, pos.DepositedAmount, pos.UserShares, pos.HighWaterMark,
		pos.LastFeeCollection, pos.LifetimeFeesPaid, pos.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", pos.Owner, err)
	}
	return nil
}

const positionSelectCols = `owner, deposited_amount, user_shares, high_water_mark,
	last_fee_collection, lifetime_fees_paid, created_at`

func scanPositionRows(rows pgx.Rows) ([]domain.UserPosition, error) {
	var positions []domain.UserPosition
	for rows.Next() {
		var p domain.UserPosition
		if err := rows.Scan(
			&p.Owner, &p.DepositedAmount, &p.UserShares, &p.HighWaterMark,
			&p.LastFeeCollection, &p.LifetimeFeesPaid, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetPosition retrieves a single position by owner.
func (s *VaultStore) GetPosition(ctx context.Context, owner string) (domain.UserPosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM user_positions WHERE owner = $1`, owner)

	var p domain.UserPosition
	err := row.Scan(
		&p.Owner, &p.DepositedAmount, &p.UserShares, &p.HighWaterMark,
		&p.LastFeeCollection, &p.LifetimeFeesPaid, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserPosition{}, domain.ErrNotFound
		}
		return domain.UserPosition{}, fmt.Errorf("postgres: get position %s: %w", owner, err)
	}
	return p, nil
}

// ListPositions returns positions with pagination and optional time filtering
// on creation time.
func (s *VaultStore) ListPositions(ctx context.Context, opts domain.ListOpts) ([]domain.UserPosition, error) {
	query := `SELECT ` + positionSelectCols + ` FROM user_positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListFeeEligible returns active positions whose last fee collection is at or
// before the cutoff, oldest first.
func (s *VaultStore) ListFeeEligible(ctx context.Context, cutoff time.Time) ([]domain.UserPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM user_positions
		 WHERE user_shares > 0 AND last_fee_collection <= $1
		 ORDER BY last_fee_collection ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fee-eligible positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fee-eligible positions: %w", err)
	}
	return positions, nil
}

// Commit writes the config and every touched position back in one
// transaction so an operation's effects land atomically or not at all.
func (s *VaultStore) Commit(ctx context.Context, cfg domain.ProtocolConfig, positions ...domain.UserPosition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const updateConfig = `
		UPDATE protocol_config SET
			total_shares           = $1,
			total_trading_deployed = $2,
			accumulated_fees       = $3,
			is_paused              = $4,
			last_fee_sweep         = $5,
			updated_at             = NOW()
		WHERE id = 1`

	tag, err := tx.Exec(ctx, updateConfig,
		cfg.TotalShares, cfg.TotalTradingDeployed, cfg.AccumulatedFees,
		cfg.IsPaused, cfg.LastFeeSweep,
	)
	if err != nil {
		return fmt.Errorf("postgres: commit protocol config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	const updatePosition = `
		UPDATE user_positions SET
			deposited_amount    = $2,
			user_shares         = $3,
			high_water_mark     = $4,
			last_fee_collection = $5,
			lifetime_fees_paid  = $6,
			updated_at          = NOW()
		WHERE owner = $1`

	for _, pos := range positions {
		tag, err := tx.Exec(ctx, updatePosition,
			pos.Owner, pos.DepositedAmount, pos.UserShares, pos.HighWaterMark,
			pos.LastFeeCollection, pos.LifetimeFeesPaid,
		)
		if err != nil {
			return fmt.Errorf("postgres: commit position %s: %w", pos.Owner, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: commit position %s: %w", pos.Owner, domain.ErrNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}
