package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// mysqlDuplicateEntry is the server error code for a unique-key violation.
const mysqlDuplicateEntry = 1062

const queryTimeout = 10 * time.Second

// MySQLStore implements Store on a MySQL database.
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore connects to dsn, verifies the connection, and creates the
// schema if missing.
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	if dsn == "" {
		return nil, errors.New("store dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MySQLStore{db: db, logger: logger.Named("store")}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			hash VARCHAR(66) NOT NULL,
			from_address VARCHAR(42) NOT NULL,
			to_address VARCHAR(42) NOT NULL,
			gas_used BIGINT UNSIGNED NOT NULL,
			gas_price DECIMAL(65,0) NOT NULL,
			block_number BIGINT UNSIGNED NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			energy_impact DOUBLE NOT NULL,
			input_data MEDIUMTEXT NULL,
			optimization_suggestion TEXT NULL,
			potential_savings DOUBLE NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE KEY transactions_hash (hash),
			KEY transactions_timestamp_idx (timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS energy_metrics (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			date TIMESTAMP NOT NULL,
			total_gas_used BIGINT UNSIGNED NOT NULL,
			average_gas_price DOUBLE NOT NULL,
			total_transactions INT NOT NULL,
			energy_impact DOUBLE NOT NULL,
			carbon_offset DOUBLE NOT NULL,
			l2_adoption DOUBLE NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			KEY energy_metrics_date_idx (date)
		)`,
		`CREATE TABLE IF NOT EXISTS optimization_recommendations (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			contract_address VARCHAR(42) NOT NULL,
			recommendation TEXT NOT NULL,
			category VARCHAR(32) NOT NULL,
			priority VARCHAR(16) NOT NULL,
			potential_savings DOUBLE NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			applied_at TIMESTAMP NULL,
			PRIMARY KEY (id),
			KEY recommendations_contract_idx (contract_address)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction inserts a transaction record and maps unique-key
// violations on the hash to ErrDuplicate.
func (s *MySQLStore) SaveTransaction(ctx context.Context, record *TransactionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO transactions
		(hash, from_address, to_address, gas_used, gas_price, block_number, timestamp, energy_impact, input_data, optimization_suggestion, potential_savings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Hash, record.From, record.To, record.GasUsed, record.GasPrice,
		record.BlockNumber, record.Timestamp, record.EnergyImpactKWh,
		record.Input, record.Suggestion, record.PotentialSavingsPct)
	if err != nil {
		if isDuplicateEntry(err) {
			return fmt.Errorf("transaction %s: %w", record.Hash, ErrDuplicate)
		}
		return fmt.Errorf("failed to save transaction %s: %w", record.Hash, err)
	}
	return nil
}

// SaveRecommendation inserts an optimization recommendation.
func (s *MySQLStore) SaveRecommendation(ctx context.Context, rec *Recommendation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO optimization_recommendations
		(contract_address, recommendation, category, priority, potential_savings, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ContractAddress, rec.Recommendation, rec.Category, rec.Priority,
		rec.PotentialSavingsPct, rec.Status)
	if err != nil {
		return fmt.Errorf("failed to save recommendation for %s: %w", rec.ContractAddress, err)
	}
	return nil
}

// AppendDailyMetrics appends one aggregate metrics row.
func (s *MySQLStore) AppendDailyMetrics(ctx context.Context, metrics *DailyMetrics) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO energy_metrics
		(date, total_gas_used, average_gas_price, total_transactions, energy_impact, carbon_offset, l2_adoption)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		metrics.Date, metrics.TotalGasUsed, metrics.AverageGasPrice,
		metrics.TotalTransactions, metrics.EnergyImpactKWh,
		metrics.CarbonOffsetKg, metrics.L2AdoptionPct)
	if err != nil {
		return fmt.Errorf("failed to append daily metrics: %w", err)
	}
	return nil
}

// RecentTransactions returns the most recent records, newest first.
func (s *MySQLStore) RecentTransactions(ctx context.Context, limit int) ([]TransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `SELECT hash, from_address, to_address, gas_used, gas_price, block_number, timestamp, energy_impact, input_data, optimization_suggestion, potential_savings
		FROM transactions ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent transactions: %w", err)
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		var r TransactionRecord
		var input, suggestion sql.NullString
		if err := rows.Scan(&r.Hash, &r.From, &r.To, &r.GasUsed, &r.GasPrice,
			&r.BlockNumber, &r.Timestamp, &r.EnergyImpactKWh, &input,
			&suggestion, &r.PotentialSavingsPct); err != nil {
			return nil, err
		}
		r.Input = input.String
		r.Suggestion = suggestion.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// RecentRecommendations returns the most recent recommendations, newest first.
func (s *MySQLStore) RecentRecommendations(ctx context.Context, limit int) ([]Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 || limit > 1000 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `SELECT contract_address, recommendation, category, priority, potential_savings, status
		FROM optimization_recommendations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var recs []Recommendation
	for rows.Next() {
		var r Recommendation
		if err := rows.Scan(&r.ContractAddress, &r.Recommendation, &r.Category,
			&r.Priority, &r.PotentialSavingsPct, &r.Status); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// TransactionStats aggregates activity over the trailing number of days.
func (s *MySQLStore) TransactionStats(ctx context.Context, days int) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)

	stats := &Stats{}
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(gas_price), 0), COALESCE(SUM(gas_used), 0), COALESCE(SUM(energy_impact), 0)
		FROM transactions WHERE timestamp >= ?`, since)
	if err := row.Scan(&stats.TotalTransactions, &stats.AvgGasPrice, &stats.TotalGasUsed, &stats.TotalEnergyKWh); err != nil {
		return nil, fmt.Errorf("failed to query transaction stats: %w", err)
	}
	return stats, nil
}

// Ping verifies connectivity.
func (s *MySQLStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the underlying connections.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
