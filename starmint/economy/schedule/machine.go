package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/pricing"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/metrics"
	"github.com/uptrace/bun"
)

type TransitionKind string

const (
	TransitionNone           TransitionKind = "none"
	TransitionBootstrap      TransitionKind = "bootstrap"
	TransitionPhaseActivated TransitionKind = "phase_activated"
	TransitionPhaseAdvanced  TransitionKind = "phase_advanced"
	TransitionSeriesAdvanced TransitionKind = "series_advanced"
	TransitionHalted         TransitionKind = "halted"
)

// Reasons reported with TransitionNone.
const (
	ReasonHalted   = "halted"
	ReasonPaused   = "paused"
	ReasonNoSeries = "no_pending_series"
	ReasonNotDue   = "not_due"
)

// Transition describes what one AdvancePhaseIfDue call did.
type Transition struct {
	Kind            TransitionKind `json:"kind"`
	Reason          string         `json:"reason,omitempty"`
	FromSeries      int            `json:"from_series,omitempty"`
	FromPhase       int            `json:"from_phase,omitempty"`
	SeriesNumber    int            `json:"series_number,omitempty"`
	PhaseNumber     int            `json:"phase_number,omitempty"`
	SellThroughRate float64        `json:"sell_through_rate,omitempty"`
	NextMultiplier  float64        `json:"next_multiplier,omitempty"`
	PhaseEndsAt     time.Time      `json:"phase_ends_at,omitempty"`
}

// Changed reports whether the transition moved any state.
func (t Transition) Changed() bool {
	return t.Kind != TransitionNone
}

// State is the read model of the schedule.
type State struct {
	ActiveSeries         int       `json:"active_series"`
	ActivePhase          int       `json:"active_phase"`
	Paused               bool      `json:"paused"`
	PausedAt             time.Time `json:"paused_at,omitempty"`
	Halted               bool      `json:"halted"`
	PhaseStartedAt       time.Time `json:"phase_started_at,omitempty"`
	PhaseEndsAt          time.Time `json:"phase_ends_at,omitempty"`
	SeriesMultiplier     float64   `json:"series_multiplier"`
	CumulativeMultiplier float64   `json:"cumulative_multiplier"`
	SoldCount            int64     `json:"sold_count"`
	TotalItems           int64     `json:"total_items"`
	Version              int64     `json:"version"`
}

// SeriesSpec describes a series to create. SeriesNumber 0 means the next
// number in sequence.
type SeriesSpec struct {
	SeriesNumber int   `json:"series_number"`
	TotalItems   int64 `json:"total_items"`
	PhaseDays    []int `json:"phase_days"`
}

// AfterCommitFunc runs once a transition has committed.
type AfterCommitFunc func(ctx context.Context, t Transition)

// Machine owns every series and phase transition. Each mutation runs in one
// transaction guarded by a version check on the single schedule_state row,
// so overlapping triggers cannot apply the same transition twice.
type Machine struct {
	repo       repositories.ScheduleRepository
	txManager  *utils.TransactionManager
	calculator *pricing.Calculator
	clock      clockwork.Clock
	metrics    *metrics.Registry
	hooks      []AfterCommitFunc
}

func NewMachine(
	repo repositories.ScheduleRepository,
	txManager *utils.TransactionManager,
	calculator *pricing.Calculator,
	clock clockwork.Clock,
	m *metrics.Registry,
) *Machine {
	return &Machine{
		repo:       repo,
		txManager:  txManager,
		calculator: calculator,
		clock:      clock,
		metrics:    m,
	}
}

// OnTransition registers fn to run after every committed transition.
func (m *Machine) OnTransition(fn AfterCommitFunc) {
	m.hooks = append(m.hooks, fn)
}

// AdvancePhaseIfDue is safe to call any number of times. "Nothing to do"
// comes back as a TransitionNone result, never as an error.
func (m *Machine) AdvancePhaseIfDue(ctx context.Context) (Transition, error) {
	var result Transition
	err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = m.advance(ctx, tx)
		return err
	})
	if err != nil {
		return Transition{}, err
	}

	if result.Changed() {
		m.metrics.RecordTransition(string(result.Kind))
		slog.Info("Schedule advanced",
			slog.String("type", "sys"),
			slog.String("component", "schedule"),
			slog.String("kind", string(result.Kind)),
			slog.Int("series", result.SeriesNumber),
			slog.Int("phase", result.PhaseNumber),
			slog.Float64("sell_through", result.SellThroughRate),
			slog.Float64("next_multiplier", result.NextMultiplier))
		for _, hook := range m.hooks {
			hook(ctx, result)
		}
	}
	return result, nil
}

func (m *Machine) advance(ctx context.Context, tx bun.Tx) (Transition, error) {
	state, err := m.repo.GetState(ctx, tx)
	if err != nil {
		return Transition{}, err
	}
	if state.Halted {
		return Transition{Kind: TransitionNone, Reason: ReasonHalted}, nil
	}
	if state.Paused {
		return Transition{Kind: TransitionNone, Reason: ReasonPaused}, nil
	}

	now := utils.Now(m.clock)

	if state.ActiveSeriesNumber == 0 {
		series, err := m.repo.LowestPendingSeries(ctx, tx)
		if err != nil {
			return Transition{}, err
		}
		if series == nil {
			return Transition{Kind: TransitionNone, Reason: ReasonNoSeries}, nil
		}
		phase, err := m.activateSeries(ctx, tx, series, series.Multiplier, now)
		if err != nil {
			return Transition{}, err
		}
		state.ActiveSeriesNumber, state.ActivePhaseNumber = series.SeriesNumber, phase.PhaseNumber
		if err := m.commitState(ctx, tx, state); err != nil {
			return Transition{}, err
		}
		return Transition{
			Kind:         TransitionBootstrap,
			SeriesNumber: series.SeriesNumber,
			PhaseNumber:  phase.PhaseNumber,
			PhaseEndsAt:  phase.EndTime(),
		}, nil
	}

	if state.ActivePhaseNumber == 0 {
		phase, err := m.activatePhase(ctx, tx, state.ActiveSeriesNumber, 1, now)
		if err != nil {
			return Transition{}, err
		}
		state.ActivePhaseNumber = phase.PhaseNumber
		if err := m.commitState(ctx, tx, state); err != nil {
			return Transition{}, err
		}
		return Transition{
			Kind:         TransitionPhaseActivated,
			SeriesNumber: state.ActiveSeriesNumber,
			PhaseNumber:  phase.PhaseNumber,
			PhaseEndsAt:  phase.EndTime(),
		}, nil
	}

	current, err := m.repo.GetPhase(ctx, tx, state.ActiveSeriesNumber, state.ActivePhaseNumber)
	if err != nil {
		return Transition{}, err
	}
	if now.Before(current.EndTime()) {
		return Transition{Kind: TransitionNone, Reason: ReasonNotDue, PhaseEndsAt: current.EndTime()}, nil
	}

	last, err := m.repo.LastPhaseNumber(ctx, tx, state.ActiveSeriesNumber)
	if err != nil {
		return Transition{}, err
	}

	result := Transition{FromSeries: current.SeriesNumber, FromPhase: current.PhaseNumber}

	current.Status = models.EpochStatusCompleted
	current.CompletedAt = now
	if err := m.repo.UpdatePhase(ctx, tx, current); err != nil {
		return Transition{}, err
	}

	if current.PhaseNumber < last {
		next, err := m.activatePhase(ctx, tx, current.SeriesNumber, current.PhaseNumber+1, now)
		if err != nil {
			return Transition{}, err
		}
		state.ActivePhaseNumber = next.PhaseNumber
		if err := m.commitState(ctx, tx, state); err != nil {
			return Transition{}, err
		}
		result.Kind = TransitionPhaseAdvanced
		result.SeriesNumber, result.PhaseNumber = next.SeriesNumber, next.PhaseNumber
		result.PhaseEndsAt = next.EndTime()
		return result, nil
	}

	series, err := m.repo.GetSeries(ctx, tx, state.ActiveSeriesNumber)
	if err != nil {
		return Transition{}, err
	}
	rate := sellThrough(series)
	nextMultiplier := m.calculator.SeriesMultiplier(rate)

	series.Status = models.EpochStatusCompleted
	series.SellThroughRate = rate
	series.CompletedAt = now
	if err := m.repo.UpdateSeries(ctx, tx, series); err != nil {
		return Transition{}, err
	}
	result.SellThroughRate = rate
	result.NextMultiplier = nextMultiplier

	next, err := m.repo.GetSeries(ctx, tx, series.SeriesNumber+1)
	if errors.Is(err, utils.ErrNotFound) {
		state.ActivePhaseNumber = 0
		state.Halted = true
		if err := m.commitState(ctx, tx, state); err != nil {
			return Transition{}, err
		}
		result.Kind = TransitionHalted
		result.SeriesNumber = series.SeriesNumber
		return result, nil
	}
	if err != nil {
		return Transition{}, err
	}
	if next.Status != models.EpochStatusPending {
		return Transition{}, utils.Conflict(utils.CodeInvalidState,
			"series %d is %s, expected %s", next.SeriesNumber, next.Status, models.EpochStatusPending)
	}

	phase, err := m.activateSeries(ctx, tx, next, nextMultiplier, now)
	if err != nil {
		return Transition{}, err
	}
	state.ActiveSeriesNumber, state.ActivePhaseNumber = next.SeriesNumber, phase.PhaseNumber
	if err := m.commitState(ctx, tx, state); err != nil {
		return Transition{}, err
	}
	result.Kind = TransitionSeriesAdvanced
	result.SeriesNumber, result.PhaseNumber = next.SeriesNumber, phase.PhaseNumber
	result.PhaseEndsAt = phase.EndTime()
	return result, nil
}

// activateSeries marks series ACTIVE with the given step multiplier and
// starts its first phase. Series 1 always carries 1.0.
func (m *Machine) activateSeries(ctx context.Context, tx bun.Tx, series *models.Series, multiplier float64, now time.Time) (*models.Phase, error) {
	if series.SeriesNumber == 1 || multiplier <= 0 {
		multiplier = 1.0
	}
	series.Status = models.EpochStatusActive
	series.Multiplier = multiplier
	series.StartedAt = now
	if err := m.repo.UpdateSeries(ctx, tx, series); err != nil {
		return nil, err
	}
	return m.activatePhase(ctx, tx, series.SeriesNumber, 1, now)
}

func (m *Machine) activatePhase(ctx context.Context, tx bun.Tx, seriesNumber, phaseNumber int, now time.Time) (*models.Phase, error) {
	phase, err := m.repo.GetPhase(ctx, tx, seriesNumber, phaseNumber)
	if err != nil {
		return nil, err
	}
	if phase.Status != models.EpochStatusPending {
		return nil, utils.Conflict(utils.CodeInvalidState,
			"phase %d of series %d is %s and cannot be activated", phaseNumber, seriesNumber, phase.Status)
	}
	phase.Status = models.EpochStatusActive
	phase.StartDate = now
	phase.TotalPausedMs = 0
	if err := m.repo.UpdatePhase(ctx, tx, phase); err != nil {
		return nil, err
	}
	return phase, nil
}

// commitState applies the version check. Losing it means another trigger
// already moved the schedule; the transaction is re-run against the new
// state.
func (m *Machine) commitState(ctx context.Context, tx bun.Tx, state *models.ScheduleState) error {
	ok, err := m.repo.CompareAndSwapState(ctx, tx, state)
	if err != nil {
		return err
	}
	if !ok {
		return utils.ErrTxConflict
	}
	return nil
}

func sellThrough(series *models.Series) float64 {
	if series.TotalItems <= 0 {
		return 0
	}
	return float64(series.SoldCount) / float64(series.TotalItems)
}

// Pause freezes the phase-expiry clock.
func (m *Machine) Pause(ctx context.Context) (*State, error) {
	err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		state, err := m.repo.GetState(ctx, tx)
		if err != nil {
			return err
		}
		if state.Halted {
			return utils.Conflict(utils.CodeInvalidState, "schedule has halted")
		}
		if state.Paused {
			return utils.Conflict(utils.CodeInvalidState, "schedule is already paused").
				WithDetail("paused_at", state.PausedAt)
		}
		state.Paused = true
		state.PausedAt = utils.Now(m.clock)
		return m.commitState(ctx, tx, state)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Schedule paused", slog.String("type", "sys"), slog.String("component", "schedule"))
	return m.GetState(ctx)
}

// Resume adds the paused wall time to the active phase so its remaining
// duration is preserved.
func (m *Machine) Resume(ctx context.Context) (*State, error) {
	var pausedFor time.Duration
	err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		state, err := m.repo.GetState(ctx, tx)
		if err != nil {
			return err
		}
		if !state.Paused {
			return utils.Conflict(utils.CodeInvalidState, "schedule is not paused")
		}

		pausedFor = max(utils.Now(m.clock).Sub(state.PausedAt), 0)
		if state.ActiveSeriesNumber > 0 && state.ActivePhaseNumber > 0 {
			phase, err := m.repo.GetPhase(ctx, tx, state.ActiveSeriesNumber, state.ActivePhaseNumber)
			if err != nil {
				return err
			}
			phase.TotalPausedMs += pausedFor.Milliseconds()
			if err := m.repo.UpdatePhase(ctx, tx, phase); err != nil {
				return err
			}
		}

		state.Paused = false
		state.PausedAt = time.Time{}
		return m.commitState(ctx, tx, state)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Schedule resumed",
		slog.String("type", "sys"),
		slog.String("component", "schedule"),
		slog.Duration("paused_for", pausedFor))
	return m.GetState(ctx)
}

// CreateSeries adds a PENDING series and its PENDING phases. Series numbers
// are contiguous from 1.
func (m *Machine) CreateSeries(ctx context.Context, spec SeriesSpec) (*models.Series, error) {
	if spec.TotalItems <= 0 {
		return nil, utils.Validation(utils.CodeInvalidInput, "total items must be positive")
	}
	if len(spec.PhaseDays) == 0 {
		return nil, utils.Validation(utils.CodeInvalidInput, "a series needs at least one phase")
	}
	for i, d := range spec.PhaseDays {
		if d <= 0 {
			return nil, utils.Validation(utils.CodeInvalidInput, "phase %d duration must be positive", i+1)
		}
	}

	var series *models.Series
	err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		maxNumber, err := m.repo.MaxSeriesNumber(ctx, tx)
		if err != nil {
			return err
		}
		number := spec.SeriesNumber
		if number == 0 {
			number = maxNumber + 1
		}
		if number != maxNumber+1 {
			return utils.Validation(utils.CodeInvalidInput,
				"series number %d is not contiguous, next is %d", number, maxNumber+1)
		}

		series = &models.Series{
			SeriesNumber: number,
			Multiplier:   1.0,
			TotalItems:   spec.TotalItems,
			Status:       models.EpochStatusPending,
		}
		phases := make([]*models.Phase, len(spec.PhaseDays))
		for i, d := range spec.PhaseDays {
			phases[i] = &models.Phase{
				SeriesNumber: number,
				PhaseNumber:  i + 1,
				DurationDays: d,
				Status:       models.EpochStatusPending,
			}
		}
		return m.repo.CreateSeries(ctx, tx, series, phases)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Series created",
		slog.String("type", "sys"),
		slog.String("component", "schedule"),
		slog.Int("series", series.SeriesNumber),
		slog.Int64("total_items", series.TotalItems),
		slog.Int("phases", len(spec.PhaseDays)))
	return series, nil
}

// GetState is the single accessor for the active schedule position.
func (m *Machine) GetState(ctx context.Context) (*State, error) {
	db := m.repo.DB()
	st, err := m.repo.GetState(ctx, db)
	if err != nil {
		return nil, utils.AsEconomyError(err)
	}
	allSeries, err := m.repo.ListSeries(ctx, db)
	if err != nil {
		return nil, utils.OperationFailed(err)
	}

	state := &State{
		ActiveSeries:         st.ActiveSeriesNumber,
		ActivePhase:          st.ActivePhaseNumber,
		Paused:               st.Paused,
		PausedAt:             st.PausedAt,
		Halted:               st.Halted,
		Version:              st.Version,
		SeriesMultiplier:     1.0,
		CumulativeMultiplier: cumulative(allSeries, st.ActiveSeriesNumber),
	}
	for _, s := range allSeries {
		if s.SeriesNumber == st.ActiveSeriesNumber {
			state.SeriesMultiplier = s.Multiplier
			state.SoldCount = s.SoldCount
			state.TotalItems = s.TotalItems
		}
	}

	if st.ActiveSeriesNumber > 0 && st.ActivePhaseNumber > 0 {
		phase, err := m.repo.GetPhase(ctx, db, st.ActiveSeriesNumber, st.ActivePhaseNumber)
		if err != nil {
			return nil, utils.AsEconomyError(err)
		}
		state.PhaseStartedAt = phase.StartDate
		state.PhaseEndsAt = phase.EndTime()
		if st.Paused {
			state.PhaseEndsAt = state.PhaseEndsAt.Add(max(utils.Now(m.clock).Sub(st.PausedAt), 0))
		}
	}
	return state, nil
}

// ActiveMultiplier is the cumulative multiplier of every series up to and
// including the active one.
func (m *Machine) ActiveMultiplier(ctx context.Context) (float64, error) {
	st, err := m.repo.GetState(ctx, m.repo.DB())
	if err != nil {
		return 0, utils.AsEconomyError(err)
	}
	if st.ActiveSeriesNumber == 0 {
		return 1.0, nil
	}
	allSeries, err := m.repo.ListSeries(ctx, m.repo.DB())
	if err != nil {
		return 0, utils.OperationFailed(err)
	}
	return cumulative(allSeries, st.ActiveSeriesNumber), nil
}

func cumulative(allSeries []*models.Series, active int) float64 {
	steps := make([]float64, 0, len(allSeries))
	for _, s := range allSeries {
		if s.SeriesNumber >= 2 && s.SeriesNumber <= active {
			steps = append(steps, s.Multiplier)
		}
	}
	return pricing.CumulativeMultiplier(steps)
}

// RecordSale counts one sale against the active series inside the caller's
// transaction. Sales after the schedule halts are not counted.
func (m *Machine) RecordSale(ctx context.Context, idb bun.IDB) error {
	st, err := m.repo.GetState(ctx, idb)
	if err != nil {
		return err
	}
	if st.ActiveSeriesNumber == 0 || st.Halted {
		slog.Debug("Sale outside an active series",
			slog.String("type", "sys"),
			slog.String("component", "schedule"))
		return nil
	}
	if err := m.repo.IncrementSold(ctx, idb, st.ActiveSeriesNumber); err != nil {
		return fmt.Errorf("failed to record sale: %w", err)
	}
	return nil
}
