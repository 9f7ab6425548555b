// Package scheduler runs the cron-driven loops: the symbol-universe refresh,
// the mark-price sweep with the pump-cooldown check, and admission control,
// which is the only place new positions are born.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"martingalian/internal/circuit"
	"martingalian/internal/database"
	"martingalian/internal/exchange"
	"martingalian/internal/jobs"
	"martingalian/internal/num"
	"martingalian/internal/planner"
	"martingalian/internal/snapshots"
	"martingalian/internal/workflows"
)

// Config tunes the loops.
type Config struct {
	// TickSpec drives mark prices and admission, cron syntax.
	TickSpec string
	// SymbolRefreshSpec drives the exchangeInfo refresh.
	SymbolRefreshSpec string
	// SpikeThresholdPct puts a symbol on cooldown when the mark moved more
	// than this percentage away from the daily close.
	SpikeThresholdPct decimal.Decimal
	// Cooldown is how long a spiked symbol stays out of admission.
	Cooldown time.Duration
	// MaxMarkAge bounds how stale a mark price may be for admission.
	MaxMarkAge time.Duration
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		TickSpec:          "@every 30s",
		SymbolRefreshSpec: "@every 1h",
		SpikeThresholdPct: num.MustParse("5"),
		Cooldown:          4 * time.Hour,
		MaxMarkAge:        90 * time.Second,
	}
}

// Scheduler owns the cron instance.
type Scheduler struct {
	DB        *database.DB
	Adapters  jobs.AdapterProvider
	Enqueuer  *workflows.Enqueuer
	Snapshots *snapshots.Store
	// Breaker starves admission for accounts on a losing streak. Optional.
	Breaker *circuit.Breaker
	// Notifier surfaces pump cooldowns to the operator. Optional.
	Notifier jobs.Notifier
	Logger   zerolog.Logger

	cfg  Config
	cron *cron.Cron
	ctx  context.Context
}

// New wires the scheduler; Start registers the cron entries.
func New(db *database.DB, adapters jobs.AdapterProvider, enqueuer *workflows.Enqueuer, store *snapshots.Store, logger zerolog.Logger, cfg Config) *Scheduler {
	if cfg.TickSpec == "" {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		DB:        db,
		Adapters:  adapters,
		Enqueuer:  enqueuer,
		Snapshots: store,
		Logger:    logger.With().Str("component", "scheduler").Logger(),
		cfg:       cfg,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start registers the entries and launches the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.cron.AddFunc(s.cfg.TickSpec, func() { s.tick(s.ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.SymbolRefreshSpec, func() { s.refreshSymbols(s.ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running entries.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// ==================== SYMBOL UNIVERSE ====================

// refreshSymbols pulls exchangeInfo for every active account's venue and
// upserts the contract rows. Operator ladder parameters survive the upsert.
func (s *Scheduler) refreshSymbols(ctx context.Context) {
	accounts, err := s.DB.ListActiveAccounts(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("symbol refresh cannot list accounts")
		return
	}

	seen := map[string]bool{}
	for _, account := range accounts {
		if seen[account.Exchange] {
			continue
		}
		seen[account.Exchange] = true

		adapter, err := s.Adapters.ForAccount(ctx, account)
		if err != nil {
			s.Logger.Warn().Err(err).Str("exchange", account.Exchange).Msg("symbol refresh skipped")
			continue
		}
		infos, err := adapter.ExchangeInfo(ctx)
		if err != nil {
			s.Logger.Warn().Err(err).Str("exchange", account.Exchange).Msg("exchangeInfo failed")
			continue
		}
		for _, info := range infos {
			row := &database.ExchangeSymbol{
				Exchange:          account.Exchange,
				Token:             info.Symbol.Token,
				Quote:             info.Symbol.Quote,
				ParsedPair:        info.ParsedPair,
				PricePrecision:    info.PricePrecision,
				QuantityPrecision: info.QuantityPrecision,
				TickSize:          info.TickSize,
				MinNotional:       info.MinNotional,
				MinPrice:          info.MinPrice,
				MaxPrice:          info.MaxPrice,
			}
			if err := s.DB.UpsertSymbol(ctx, row); err != nil {
				s.Logger.Warn().Err(err).Str("pair", info.ParsedPair).Msg("symbol upsert failed")
			}
		}
		s.Logger.Info().Str("exchange", account.Exchange).Int("symbols", len(infos)).Msg("symbol universe refreshed")
	}
}

// ==================== TICK ====================

// tick refreshes mark prices for eligible symbols, applies the pump
// cooldown, then runs admission for every active account.
func (s *Scheduler) tick(ctx context.Context) {
	settings, err := s.DB.GetEngineSettings(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("tick cannot read engine settings")
		return
	}
	if settings.KillSwitch {
		s.Logger.Debug().Msg("kill switch armed, tick skipped")
		return
	}

	accounts, err := s.DB.ListActiveAccounts(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("tick cannot list accounts")
		return
	}

	refreshed := map[string]bool{}
	for _, account := range accounts {
		adapter, err := s.Adapters.ForAccount(ctx, account)
		if err != nil {
			s.Logger.Warn().Err(err).Int64("account_id", account.ID).Msg("tick skipped account")
			continue
		}
		if !refreshed[account.Exchange] {
			refreshed[account.Exchange] = true
			s.refreshMarks(ctx, account.Exchange, adapter)
		}
		exchangePositions := s.exchangePositions(ctx, account, adapter)
		// A paused scheduler keeps the mark prices warm but admits nothing.
		if settings.SchedulerEnabled {
			s.admit(ctx, account, adapter, exchangePositions)
		}
	}

	s.syncActive(ctx)
}

// exchangePositions returns the account's live position set, preferring a
// snapshot fresh enough for admission so the tick does not spend request
// weight twice. nil means unknown; callers skip the cross-check.
func (s *Scheduler) exchangePositions(ctx context.Context, account *database.Account, adapter exchange.Adapter) map[string]exchange.PositionInfo {
	if s.Snapshots != nil {
		if positions, capturedAt, err := s.Snapshots.Positions(ctx, account.ID); err == nil {
			if time.Since(capturedAt) <= s.cfg.MaxMarkAge {
				return positions
			}
		}
	}
	positions, err := adapter.Positions(ctx)
	if err != nil {
		s.Logger.Warn().Err(err).Int64("account_id", account.ID).Msg("open positions fetch failed")
		return nil
	}
	if s.Snapshots != nil {
		if err := s.Snapshots.SetPositions(ctx, account.ID, positions); err != nil {
			s.Logger.Debug().Err(err).Int64("account_id", account.ID).Msg("positions snapshot write failed")
		}
	}
	return positions
}

// syncActive enqueues the reconciliation workflow for every idle active
// position, restoring an accurate local mirror before the next observer pass.
func (s *Scheduler) syncActive(ctx context.Context) {
	positions, err := s.DB.ListPositionsByStatus(ctx, database.StatusActive)
	if err != nil {
		s.Logger.Error().Err(err).Msg("sync sweep cannot list positions")
		return
	}
	for _, position := range positions {
		if _, err := s.Enqueuer.EnqueueSync(ctx, position); err != nil {
			// Losing the active->syncing race to another workflow is routine.
			s.Logger.Debug().Err(err).Int64("position_id", position.ID).Msg("sync enqueue skipped")
		}
	}
}

// refreshMarks updates mark prices and puts spiking symbols on cooldown.
func (s *Scheduler) refreshMarks(ctx context.Context, exchangeName string, adapter exchange.Adapter) {
	symbols, err := s.DB.ListEligibleSymbols(ctx, exchangeName)
	if err != nil {
		s.Logger.Error().Err(err).Str("exchange", exchangeName).Msg("cannot list eligible symbols")
		return
	}

	for _, symbol := range symbols {
		sym := exchange.Symbol{Token: symbol.Token, Quote: symbol.Quote}
		mark, err := adapter.MarkPrice(ctx, sym)
		if err != nil {
			s.Logger.Warn().Err(err).Str("pair", symbol.ParsedPair).Msg("mark price fetch failed")
			continue
		}
		if err := s.DB.UpdateMarkPrice(ctx, symbol.ID, mark, time.Now().UTC()); err != nil {
			s.Logger.Warn().Err(err).Str("pair", symbol.ParsedPair).Msg("mark price store failed")
			continue
		}
		if s.Snapshots != nil {
			if err := s.Snapshots.SetMarkPrice(ctx, exchangeName, symbol.ParsedPair, mark); err != nil {
				s.Logger.Debug().Err(err).Str("pair", symbol.ParsedPair).Msg("mark price snapshot failed")
			}
		}
		s.checkSpike(ctx, adapter, symbol, sym, mark)
	}
}

// checkSpike compares the mark against yesterday's close and cools the
// symbol down when the move exceeds the threshold. A pumping symbol would
// hand the ladder a poisoned reference price.
func (s *Scheduler) checkSpike(ctx context.Context, adapter exchange.Adapter, symbol *database.ExchangeSymbol, sym exchange.Symbol, mark decimal.Decimal) {
	klines, err := adapter.Klines(ctx, sym, "1d", 2)
	if err != nil || len(klines) < 2 {
		return
	}
	dailyClose := klines[len(klines)-2].Close

	spike, err := planner.PriceSpikePct(mark, dailyClose)
	if err != nil {
		return
	}
	if spike.LessThanOrEqual(s.cfg.SpikeThresholdPct) {
		return
	}

	until := time.Now().UTC().Add(s.cfg.Cooldown)
	if err := s.DB.SetSymbolCooldown(ctx, symbol.ID, until); err != nil {
		s.Logger.Warn().Err(err).Str("pair", symbol.ParsedPair).Msg("cooldown store failed")
		return
	}
	s.Logger.Info().
		Str("pair", symbol.ParsedPair).
		Str("spike_pct", spike.StringFixed(2)).
		Time("until", until).
		Msg("symbol cooled down after price spike")
	s.notifyCooldown(ctx, symbol, spike, until)
}

// notifyCooldown alerts the operator that a symbol left the admission set.
func (s *Scheduler) notifyCooldown(ctx context.Context, symbol *database.ExchangeSymbol, spike decimal.Decimal, until time.Time) {
	if s.Notifier == nil {
		return
	}
	message := fmt.Sprintf("%s on %s moved %s%% against the daily close, admission paused until %s",
		symbol.ParsedPair, symbol.Exchange, spike.StringFixed(2), until.Format(time.RFC3339))
	if err := s.Notifier.Send(ctx, "warn", "pump cooldown", message, nil); err != nil {
		s.Logger.Warn().Err(err).Str("pair", symbol.ParsedPair).Msg("cooldown notification failed")
	}
}

// ==================== ADMISSION ====================

// admit opens new positions for the account up to its concurrency cap. The
// open workflow itself does the sizing; admission only decides whether a
// ladder may exist at all. exchangePositions cross-checks the exchange side so
// a manually opened position never gets a second ladder.
func (s *Scheduler) admit(ctx context.Context, account *database.Account, adapter exchange.Adapter, exchangePositions map[string]exchange.PositionInfo) {
	open, err := s.DB.CountOpenPositions(ctx, account.ID)
	if err != nil {
		s.Logger.Error().Err(err).Int64("account_id", account.ID).Msg("admission cannot count positions")
		return
	}
	budget := account.MaxConcurrentPositions - open
	if budget <= 0 {
		return
	}

	if s.Breaker != nil {
		if ok, reason := s.Breaker.Allow(account.ID); !ok {
			s.Logger.Debug().Int64("account_id", account.ID).Str("reason", reason).Msg("admission halted by breaker")
			return
		}
	}

	// A busy account keeps its request weight for the running workflows.
	running, err := s.DB.CountRunningStepsForAccount(ctx, account.ID)
	if err != nil {
		s.Logger.Error().Err(err).Int64("account_id", account.ID).Msg("admission cannot count steps")
		return
	}
	if running > 0 {
		return
	}

	symbols, err := s.DB.ListEligibleSymbols(ctx, account.Exchange)
	if err != nil {
		s.Logger.Error().Err(err).Str("exchange", account.Exchange).Msg("admission cannot list symbols")
		return
	}

	directions := []string{string(planner.Long)}
	if adapter.Capabilities().HedgeMode {
		directions = append(directions, string(planner.Short))
	}

	for _, symbol := range symbols {
		if budget <= 0 {
			return
		}
		if !s.markFresh(symbol) {
			continue
		}
		for _, direction := range directions {
			if budget <= 0 {
				return
			}
			exists, err := s.DB.HasOpenPositionOnSymbol(ctx, account.ID, symbol.ID, direction)
			if err != nil {
				s.Logger.Error().Err(err).Str("pair", symbol.ParsedPair).Msg("admission check failed")
				continue
			}
			if exists {
				continue
			}
			if exchangePositions != nil {
				key := exchange.PositionKey(symbol.ParsedPair, sideOf(direction), adapter.Capabilities().HedgeMode)
				if info, ok := exchangePositions[key]; ok && !info.Amount.IsZero() {
					s.Logger.Debug().
						Str("pair", symbol.ParsedPair).
						Str("direction", direction).
						Msg("exchange already holds a position, admission skipped")
					continue
				}
			}
			if err := s.openPosition(ctx, account, symbol, direction); err != nil {
				s.Logger.Error().Err(err).
					Str("pair", symbol.ParsedPair).
					Str("direction", direction).
					Msg("failed to open position")
				continue
			}
			budget--
		}
	}
}

func sideOf(direction string) exchange.PositionSide {
	if direction == string(planner.Short) {
		return exchange.PositionShort
	}
	return exchange.PositionLong
}

func (s *Scheduler) markFresh(symbol *database.ExchangeSymbol) bool {
	if symbol.MarkPriceUpdatedAt == nil {
		return false
	}
	return time.Since(*symbol.MarkPriceUpdatedAt) <= s.cfg.MaxMarkAge
}

func (s *Scheduler) openPosition(ctx context.Context, account *database.Account, symbol *database.ExchangeSymbol, direction string) error {
	position := &database.Position{
		AccountID:  account.ID,
		SymbolID:   symbol.ID,
		Direction:  direction,
		MarginMode: account.MarginMode,
	}
	if err := s.DB.CreatePosition(ctx, position); err != nil {
		return err
	}
	block, err := s.Enqueuer.EnqueueOpen(ctx, position)
	if err != nil {
		return err
	}
	s.Logger.Info().
		Int64("position_id", position.ID).
		Int64("account_id", account.ID).
		Str("pair", symbol.ParsedPair).
		Str("direction", direction).
		Str("block", block.String()).
		Msg("position admitted")
	return nil
}
