// Package engine replays the bar stream through the full pipeline:
// indicators, universe selection, signal detection, risk evaluation and
// portfolio application, journaling every outcome. The replay is single
// threaded and processes symbols of a timestamp in ascending order, so a run
// over the same input and configuration is bit-for-bit reproducible.
package engine

import (
	"context"
	"sort"

	"github.com/moznion/go-optional"
	"github.com/oakmont-labs/trendline/internal/config"
	"github.com/oakmont-labs/trendline/internal/datasource"
	"github.com/oakmont-labs/trendline/internal/indicator"
	"github.com/oakmont-labs/trendline/internal/journal"
	"github.com/oakmont-labs/trendline/internal/logger"
	"github.com/oakmont-labs/trendline/internal/portfolio"
	"github.com/oakmont-labs/trendline/internal/risk"
	"github.com/oakmont-labs/trendline/internal/signal"
	"github.com/oakmont-labs/trendline/internal/types"
	"github.com/oakmont-labs/trendline/internal/universe"
	"github.com/oakmont-labs/trendline/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Result summarizes a completed run.
type Result struct {
	InitialCapital float64
	FinalEquity    float64
	RealizedPnL    float64
	BarCount       int
	FillCount      int
	RejectionCount int
	// Snapshots is the portfolio history, one snapshot per processed timestamp
	Snapshots []types.Snapshot
}

// Engine wires the pipeline components and owns the replay loop.
type Engine struct {
	cfg        config.Config
	log        *logger.Logger
	source     datasource.DataSource
	indicators *indicator.Engine
	selector   *universe.Selector
	detector   *signal.Detector
	manager    *risk.Manager
	tracker    *portfolio.Tracker
	journal    *journal.Journal

	benchmark    optional.Option[string]
	showProgress bool

	history []types.Snapshot
}

// New builds an engine from a validated configuration.
func New(cfg config.Config, log *logger.Logger) (*Engine, error) {
	indicators, err := indicator.NewEngine(cfg.Strategy.SMAPeriod, cfg.Strategy.ATRPeriod, cfg.Strategy.SlopeLookback)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBacktestInitFailed, "failed to build indicator engine", err)
	}

	selector, err := universe.NewSelector(cfg.UniverseRules())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBacktestInitFailed, "failed to build universe selector", err)
	}

	tracker, err := portfolio.NewTracker(cfg.Engine.InitialCapital, log)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBacktestInitFailed, "failed to build portfolio tracker", err)
	}

	jnl, err := journal.NewJournal(log)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBacktestInitFailed, "failed to open journal", err)
	}

	if err := jnl.Initialize(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBacktestInitFailed, "failed to initialize journal", err)
	}

	return &Engine{
		cfg:          cfg,
		log:          log,
		indicators:   indicators,
		selector:     selector,
		detector:     signal.NewDetector(cfg.SignalParams()),
		manager:      risk.NewManager(cfg.RiskLimits(), log),
		tracker:      tracker,
		journal:      jnl,
		benchmark:    cfg.Strategy.BenchmarkSymbol,
		showProgress: true,
	}, nil
}

// SetDataSource injects a prepared data source. When unset, Run opens a
// DuckDB source over the configured paths.
func (e *Engine) SetDataSource(source datasource.DataSource) {
	e.source = source
}

// SetShowProgress toggles the terminal progress bar.
func (e *Engine) SetShowProgress(show bool) {
	e.showProgress = show
}

// Journal exposes the run journal, e.g. for export after Run returns.
func (e *Engine) Journal() *journal.Journal {
	return e.journal
}

// Run replays the configured bar stream to completion. Sequence and data
// errors abort the run; sizing errors drop the offending intent and continue.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if e.source == nil {
		source, err := datasource.NewDuckDBSource(e.log)
		if err != nil {
			return Result{}, err
		}

		if err := source.Initialize(e.cfg.Data.Paths...); err != nil {
			return Result{}, err
		}

		e.source = source
		defer source.Close()
	}

	count, err := e.source.Count(e.cfg.Data.StartTime, e.cfg.Data.EndTime)
	if err != nil {
		return Result{}, err
	}

	if count == 0 {
		return Result{}, errors.New(errors.ErrCodeNoData, "no bars in the configured range")
	}

	var bar *progressbar.ProgressBar
	if e.showProgress {
		bar = progressbar.Default(int64(count))
	}

	barCount := 0

	var batch []types.Bar

	for data, err := range e.source.ReadAll(e.cfg.Data.StartTime, e.cfg.Data.EndTime) {
		if err != nil {
			return Result{}, err
		}

		if err := ctx.Err(); err != nil {
			return Result{}, errors.Wrap(errors.ErrCodeBacktestInitFailed, "run cancelled", err)
		}

		if len(batch) > 0 && !data.Time.Equal(batch[0].Time) {
			if err := e.step(batch); err != nil {
				return Result{}, err
			}

			batch = batch[:0]
		}

		batch = append(batch, data)
		barCount++

		if bar != nil {
			bar.Add(1)
		}
	}

	if len(batch) > 0 {
		if err := e.step(batch); err != nil {
			return Result{}, err
		}
	}

	return e.buildResult(barCount)
}

// step processes all bars of one timestamp: ingest, select, detect, size and
// apply, then snapshot.
func (e *Engine) step(batch []types.Bar) error {
	at := batch[0].Time

	symbols := make([]string, 0, len(batch))

	for _, b := range batch {
		if _, err := e.indicators.Update(b); err != nil {
			// Out-of-order and malformed bars are not recoverable.
			return err
		}

		e.selector.Observe(b)
		e.tracker.Mark(b.Symbol, b.Close)

		symbols = append(symbols, b.Symbol)
	}

	sort.Strings(symbols)

	snapshot := e.tracker.Snapshot(at)

	// Held symbols are always candidates, bar or no bar: a symbol that skips
	// a timestamp keeps its selector stats and stays eligible unless it
	// genuinely fails a rule. Only real eligibility loss forces an exit.
	candidates := e.tradables(symbols)
	inBatch := make(map[string]bool, len(candidates))

	for _, symbol := range candidates {
		inBatch[symbol] = true
	}

	for symbol := range snapshot.Positions {
		if !inBatch[symbol] {
			candidates = append(candidates, symbol)
		}
	}

	selection := e.selector.Eligible(at, candidates, snapshot.Positions)

	forced := make(map[string]bool, len(selection.ForcedExits))
	for _, symbol := range selection.ForcedExits {
		forced[symbol] = true
	}

	entriesAllowed := e.benchmarkAllowsEntries()

	for _, symbol := range symbols {
		if e.isBenchmark(symbol) {
			continue
		}

		if err := e.evaluateSymbol(symbol, selection, forced[symbol], entriesAllowed); err != nil {
			return err
		}
	}

	// Forced exits for held symbols that produced no bar this timestamp.
	processed := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		processed[symbol] = true
	}

	for _, symbol := range selection.ForcedExits {
		if processed[symbol] {
			continue
		}

		if err := e.evaluateSymbol(symbol, selection, true, entriesAllowed); err != nil {
			return err
		}
	}

	final := e.tracker.Snapshot(at)
	e.history = append(e.history, final)

	return e.journal.RecordEquity(final)
}

// evaluateSymbol runs detection and risk for one symbol against the freshest
// snapshot, so earlier fills in the same step constrain later symbols.
func (e *Engine) evaluateSymbol(symbol string, selection universe.Result, forcedExit, entriesAllowed bool) error {
	state, ok := e.indicators.State(symbol)
	if !ok {
		return nil
	}

	snapshot := e.tracker.Snapshot(state.Time)
	position, hasPosition := snapshot.Position(symbol)

	sig := optional.None[types.Signal]()
	if selection.IsEligible(symbol) || hasPosition {
		sig = e.detector.Detect(state, position, hasPosition)
	}

	// The market filter gates entries only; exits always pass.
	if sig.IsSome() && sig.Unwrap().IsEntry() && (!entriesAllowed || !selection.IsEligible(symbol)) {
		sig = optional.None[types.Signal]()
	}

	decision, err := e.manager.Evaluate(risk.Input{
		Signal:     sig,
		State:      state,
		Snapshot:   snapshot,
		ForcedExit: forcedExit,
	})
	if err != nil {
		if errors.IsSizingError(err) {
			e.log.Warn("sizing error, intent dropped",
				zap.String("symbol", symbol),
				zap.Error(err),
			)

			return nil
		}

		return err
	}

	if decision.Rejection.IsSome() {
		rejection := decision.Rejection.Unwrap()

		e.log.Debug("intent rejected",
			zap.String("symbol", rejection.Symbol),
			zap.String("reason", rejection.Reason.Reason),
		)

		return e.journal.RecordRejection(rejection)
	}

	if decision.Intent.IsNone() {
		return nil
	}

	intent := decision.Intent.Unwrap()
	pnl := realizedPnL(intent, position, hasPosition)

	remaining, err := e.tracker.Apply(intent)
	if err != nil {
		return err
	}

	e.manager.OnFill(intent, state, remaining)

	return e.journal.RecordFill(intent, pnl)
}

// tradables strips the benchmark from the candidate set; it is observed for
// the market filter but never traded.
func (e *Engine) tradables(symbols []string) []string {
	if e.benchmark.IsNone() {
		return symbols
	}

	out := make([]string, 0, len(symbols))

	for _, symbol := range symbols {
		if !e.isBenchmark(symbol) {
			out = append(out, symbol)
		}
	}

	return out
}

func (e *Engine) isBenchmark(symbol string) bool {
	return e.benchmark.IsSome() && e.benchmark.Unwrap() == symbol
}

// benchmarkAllowsEntries reports whether the market filter permits new
// entries: the benchmark must be trading above its own moving average. An
// unset benchmark always permits; a configured benchmark that has not warmed
// up blocks entries.
func (e *Engine) benchmarkAllowsEntries() bool {
	if e.benchmark.IsNone() {
		return true
	}

	state, ok := e.indicators.State(e.benchmark.Unwrap())
	if !ok {
		return false
	}

	sma, ok := state.Value(types.IndicatorTypeSMA)
	if !ok {
		return false
	}

	return state.Close > sma
}

// realizedPnL computes the decimal PnL a fill realizes against the average
// entry price. Entries and position-increasing fills realize nothing.
func realizedPnL(intent types.OrderIntent, position types.Position, hasPosition bool) float64 {
	if !hasPosition {
		return 0
	}

	closingLong := position.Quantity > 0 && intent.Side == types.PurchaseTypeSell
	closingShort := position.Quantity < 0 && intent.Side == types.PurchaseTypeBuy

	if !closingLong && !closingShort {
		return 0
	}

	quantity := decimal.NewFromFloat(intent.Quantity)
	entry := decimal.NewFromFloat(position.AvgEntryPrice)
	price := decimal.NewFromFloat(intent.Price)

	var pnl decimal.Decimal
	if closingLong {
		pnl = quantity.Mul(price.Sub(entry))
	} else {
		pnl = quantity.Mul(entry.Sub(price))
	}

	value, _ := pnl.Float64()

	return value
}

func (e *Engine) buildResult(barCount int) (Result, error) {
	pnl, err := e.journal.RealizedPnL()
	if err != nil {
		return Result{}, err
	}

	fills, err := e.journal.Fills()
	if err != nil {
		return Result{}, err
	}

	rejections, err := e.journal.Rejections()
	if err != nil {
		return Result{}, err
	}

	result := Result{
		InitialCapital: e.cfg.Engine.InitialCapital,
		BarCount:       barCount,
		RealizedPnL:    pnl,
		FillCount:      len(fills),
		RejectionCount: len(rejections),
		Snapshots:      e.history,
	}

	if len(e.history) > 0 {
		result.FinalEquity = e.history[len(e.history)-1].Equity
	} else {
		result.FinalEquity = e.cfg.Engine.InitialCapital
	}

	e.log.Info("run complete",
		zap.Int("bars", barCount),
		zap.Int("fills", result.FillCount),
		zap.Int("rejections", result.RejectionCount),
		zap.Float64("final_equity", result.FinalEquity),
	)

	return result, nil
}
