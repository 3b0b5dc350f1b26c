// Package datasource loads daily bars into DuckDB and streams them to the
// engine in replay order: ascending time, then ascending symbol within a
// timestamp. CSV and parquet inputs are exposed through a single market_data
// view, so filtering and ordering stay in SQL.
package datasource

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/oakmont-labs/trendline/internal/logger"
	"github.com/oakmont-labs/trendline/internal/types"
	"github.com/oakmont-labs/trendline/pkg/errors"
	"go.uber.org/zap"
)

// DataSource streams bars to the engine in deterministic replay order.
type DataSource interface {
	// Initialize builds the market_data view over the given input files
	Initialize(paths ...string) error
	// Count returns the number of bars in the optional time range
	Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error)
	// ReadAll yields bars ordered by time then symbol
	ReadAll(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.Bar, error) bool)
	// Symbols returns the distinct symbols present, ascending
	Symbols() ([]string, error)
	// ReadLast returns the most recent bar for a symbol
	ReadLast(symbol string) (types.Bar, error)
	Close() error
}

// DuckDBSource implements DataSource on an in-memory DuckDB database.
type DuckDBSource struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// NewDuckDBSource opens an in-memory bar database.
func NewDuckDBSource(log *logger.Logger) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open duckdb", err)
	}

	return &DuckDBSource{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Initialize implements DataSource. Each path may be a concrete file or a
// glob; parquet and CSV inputs can be mixed and are unioned into one view.
func (d *DuckDBSource) Initialize(paths ...string) error {
	if len(paths) == 0 {
		return errors.New(errors.ErrCodeNoData, "no input paths given")
	}

	if _, err := d.db.Exec(`DROP VIEW IF EXISTS market_data`); err != nil {
		return errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to drop existing view", err)
	}

	selects := make([]string, 0, len(paths))
	for _, path := range paths {
		selects = append(selects, fmt.Sprintf(
			`SELECT time, symbol, open, high, low, close, volume FROM %s`, readerFor(path)))
	}

	// CREATE VIEW is raw SQL, squirrel has no support for it.
	query := fmt.Sprintf(`CREATE VIEW market_data AS %s`, strings.Join(selects, " UNION ALL "))

	if _, err := d.db.Exec(query); err != nil {
		return errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to create market_data view", err)
	}

	d.log.Debug("market data view created", zap.Strings("paths", paths))

	return nil
}

// readerFor picks the DuckDB table function for an input file.
func readerFor(path string) string {
	if strings.HasSuffix(path, ".parquet") {
		return fmt.Sprintf(`read_parquet('%s')`, path)
	}

	return fmt.Sprintf(`read_csv('%s', header=true, timestampformat='%%Y-%%m-%%d')`, path)
}

// Count implements DataSource.
func (d *DuckDBSource) Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	query := `SELECT COUNT(*) FROM market_data`

	conditions, params := timeConditions(start, end)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int
	if err := d.db.QueryRow(query, params...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count bars", err)
	}

	return count, nil
}

// ReadAll implements DataSource. Bars are yielded ordered by time ascending
// and symbol ascending within a timestamp, which fixes the engine's replay
// order; capital contention between symbols of the same bar resolves by
// symbol order alone.
func (d *DuckDBSource) ReadAll(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.Bar, error) bool) {
	return func(yield func(types.Bar, error) bool) {
		query := `
			SELECT time, symbol, open, high, low, close, volume
			FROM market_data
		`

		conditions, params := timeConditions(start, end)
		if len(conditions) > 0 {
			query += " WHERE " + strings.Join(conditions, " AND ")
		}

		query += " ORDER BY time ASC, symbol ASC"

		rows, err := d.db.Query(query, params...)
		if err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err))

			return
		}
		defer rows.Close()

		for rows.Next() {
			var bar types.Bar

			err := rows.Scan(&bar.Time, &bar.Symbol, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume)
			if err != nil {
				yield(types.Bar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar", err))

				return
			}

			if !yield(bar, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating bars", err))
		}
	}
}

// Symbols implements DataSource.
func (d *DuckDBSource) Symbols() ([]string, error) {
	rows, err := d.db.Query(`SELECT DISTINCT symbol FROM market_data ORDER BY symbol`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query symbols", err)
	}
	defer rows.Close()

	var symbols []string

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan symbol", err)
		}

		symbols = append(symbols, symbol)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating symbols", err)
	}

	return symbols, nil
}

// ReadLast implements DataSource.
func (d *DuckDBSource) ReadLast(symbol string) (types.Bar, error) {
	query, args, err := d.sq.
		Select("time", "symbol", "open", "high", "low", "close", "volume").
		From("market_data").
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("time DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	var bar types.Bar

	err = d.db.QueryRow(query, args...).
		Scan(&bar.Time, &bar.Symbol, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Bar{}, errors.Newf(errors.ErrCodeDataNotFound, "no bars found for symbol %s", symbol)
		}

		return types.Bar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar", err)
	}

	return bar, nil
}

// Close implements DataSource.
func (d *DuckDBSource) Close() error {
	if d.db != nil {
		return d.db.Close()
	}

	return nil
}

func timeConditions(start optional.Option[time.Time], end optional.Option[time.Time]) ([]string, []interface{}) {
	var conditions []string

	var params []interface{}

	if start.IsSome() {
		params = append(params, start.Unwrap())
		conditions = append(conditions, fmt.Sprintf("time >= $%d", len(params)))
	}

	if end.IsSome() {
		params = append(params, end.Unwrap())
		conditions = append(conditions, fmt.Sprintf("time <= $%d", len(params)))
	}

	return conditions, params
}
