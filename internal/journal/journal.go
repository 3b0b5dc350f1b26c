// Package journal persists the audit trail of a run: every accepted intent,
// every soft rejection, every fill with realized PnL and the per-step equity
// curve. Storage is an in-memory DuckDB database so the whole trail stays
// queryable with SQL during the run and exports to parquet afterwards.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/oakmont-labs/trendline/internal/logger"
	"github.com/oakmont-labs/trendline/internal/types"
	"github.com/oakmont-labs/trendline/pkg/errors"
	"go.uber.org/zap"
)

// Journal records the intents, rejections, fills and equity curve of one run.
type Journal struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// Fill is one executed intent joined with its realized PnL. PnL is zero for
// entries and the decimal-computed difference for closes and reductions.
type Fill struct {
	IntentID string    `json:"intent_id" csv:"intent_id"`
	Symbol   string    `json:"symbol" csv:"symbol"`
	Side     string    `json:"side" csv:"side"`
	Quantity float64   `json:"quantity" csv:"quantity"`
	Price    float64   `json:"price" csv:"price"`
	Time     time.Time `json:"time" csv:"time"`
	Reason   string    `json:"reason" csv:"reason"`
	Message  string    `json:"message" csv:"message"`
	PnL      float64   `json:"pnl" csv:"pnl"`
}

// EquityPoint is one step of the equity curve.
type EquityPoint struct {
	Time          time.Time `json:"time" csv:"time"`
	Cash          float64   `json:"cash" csv:"cash"`
	Equity        float64   `json:"equity" csv:"equity"`
	OpenPositions int       `json:"open_positions" csv:"open_positions"`
}

// NewJournal opens an in-memory journal database.
func NewJournal(log *logger.Logger) (*Journal, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalFailed, "failed to open journal database", err)
	}

	return &Journal{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the journal tables.
func (j *Journal) Initialize() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS intents (
			intent_id TEXT PRIMARY KEY,
			symbol TEXT,
			side TEXT,
			position_type TEXT,
			quantity DOUBLE,
			price DOUBLE,
			timestamp TIMESTAMP,
			reason TEXT,
			message TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to create intents table", err)
	}

	_, err = j.db.Exec(`
		CREATE TABLE IF NOT EXISTS rejections (
			symbol TEXT,
			timestamp TIMESTAMP,
			reason TEXT,
			message TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to create rejections table", err)
	}

	_, err = j.db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			intent_id TEXT,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			price DOUBLE,
			timestamp TIMESTAMP,
			reason TEXT,
			message TEXT,
			pnl DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to create fills table", err)
	}

	_, err = j.db.Exec(`
		CREATE TABLE IF NOT EXISTS equity (
			timestamp TIMESTAMP,
			cash DOUBLE,
			equity DOUBLE,
			open_positions INTEGER
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to create equity table", err)
	}

	return nil
}

// RecordFill journals an accepted intent and its execution in one transaction.
func (j *Journal) RecordFill(intent types.OrderIntent, pnl float64) error {
	tx, err := j.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to begin transaction", err)
	}

	_, err = j.sq.
		Insert("intents").
		Columns("intent_id", "symbol", "side", "position_type", "quantity", "price", "timestamp", "reason", "message").
		Values(intent.ID, intent.Symbol, intent.Side, intent.PositionType, intent.Quantity,
			intent.Price, intent.Timestamp, intent.Reason.Reason, intent.Reason.Message).
		RunWith(tx).
		Exec()
	if err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to insert intent", err)
	}

	_, err = j.sq.
		Insert("fills").
		Columns("intent_id", "symbol", "side", "quantity", "price", "timestamp", "reason", "message", "pnl").
		Values(intent.ID, intent.Symbol, intent.Side, intent.Quantity, intent.Price,
			intent.Timestamp, intent.Reason.Reason, intent.Reason.Message, pnl).
		RunWith(tx).
		Exec()
	if err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to insert fill", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to commit fill", err)
	}

	return nil
}

// RecordRejection journals a soft rejection.
func (j *Journal) RecordRejection(rejection types.Rejection) error {
	_, err := j.sq.
		Insert("rejections").
		Columns("symbol", "timestamp", "reason", "message").
		Values(rejection.Symbol, rejection.Timestamp, rejection.Reason.Reason, rejection.Reason.Message).
		RunWith(j.db).
		Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to insert rejection", err)
	}

	return nil
}

// RecordEquity journals one point of the equity curve.
func (j *Journal) RecordEquity(snapshot types.Snapshot) error {
	_, err := j.sq.
		Insert("equity").
		Columns("timestamp", "cash", "equity", "open_positions").
		Values(snapshot.Timestamp, snapshot.Cash, snapshot.Equity, snapshot.OpenPositionCount()).
		RunWith(j.db).
		Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to insert equity point", err)
	}

	return nil
}

// Fills returns all journaled fills in execution order.
func (j *Journal) Fills() ([]Fill, error) {
	query, args, err := j.sq.
		Select("intent_id", "symbol", "side", "quantity", "price", "timestamp", "reason", "message", "pnl").
		From("fills").
		OrderBy("timestamp ASC", "intent_id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build fills query", err)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query fills", err)
	}
	defer rows.Close()

	var fills []Fill

	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.IntentID, &f.Symbol, &f.Side, &f.Quantity, &f.Price, &f.Time, &f.Reason, &f.Message, &f.PnL); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan fill", err)
		}

		fills = append(fills, f)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating fills", err)
	}

	return fills, nil
}

// Rejections returns all journaled rejections in order.
func (j *Journal) Rejections() ([]types.Rejection, error) {
	query, args, err := j.sq.
		Select("symbol", "timestamp", "reason", "message").
		From("rejections").
		OrderBy("timestamp ASC", "symbol ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build rejections query", err)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query rejections", err)
	}
	defer rows.Close()

	var rejections []types.Rejection

	for rows.Next() {
		var r types.Rejection
		if err := rows.Scan(&r.Symbol, &r.Timestamp, &r.Reason.Reason, &r.Reason.Message); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan rejection", err)
		}

		rejections = append(rejections, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating rejections", err)
	}

	return rejections, nil
}

// EquityCurve returns the journaled equity points in time order.
func (j *Journal) EquityCurve() ([]EquityPoint, error) {
	query, args, err := j.sq.
		Select("timestamp", "cash", "equity", "open_positions").
		From("equity").
		OrderBy("timestamp ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build equity query", err)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query equity curve", err)
	}
	defer rows.Close()

	var curve []EquityPoint

	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.Time, &p.Cash, &p.Equity, &p.OpenPositions); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan equity point", err)
		}

		curve = append(curve, p)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating equity curve", err)
	}

	return curve, nil
}

// RealizedPnL returns the sum of journaled fill PnL.
func (j *Journal) RealizedPnL() (float64, error) {
	var pnl sql.NullFloat64

	err := j.db.QueryRow(`SELECT SUM(pnl) FROM fills`).Scan(&pnl)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to sum pnl", err)
	}

	return pnl.Float64, nil
}

// Write exports the journal tables to parquet files under the result folder.
func (j *Journal) Write(resultFolder string) error {
	if err := os.MkdirAll(resultFolder, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to create result folder", err)
	}

	exports := map[string]string{
		"fills":      filepath.Join(resultFolder, "fills.parquet"),
		"rejections": filepath.Join(resultFolder, "rejections.parquet"),
		"equity":     filepath.Join(resultFolder, "equity.parquet"),
		"intents":    filepath.Join(resultFolder, "intents.parquet"),
	}

	for table, path := range exports {
		_, err := j.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, path))
		if err != nil {
			return errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to export %s", table)
		}
	}

	j.log.Info("journal exported", zap.String("folder", resultFolder))

	return nil
}

// Close releases the journal database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}

	return nil
}
