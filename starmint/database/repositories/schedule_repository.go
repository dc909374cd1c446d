package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starmint/starmint/starmint/database/models"
	"github.com/uptrace/bun"
)

type ScheduleRepository interface {
	DB() *bun.DB
	EnsureState(ctx context.Context, idb bun.IDB) error
	GetState(ctx context.Context, idb bun.IDB) (*models.ScheduleState, error)
	CompareAndSwapState(ctx context.Context, idb bun.IDB, state *models.ScheduleState) (bool, error)

	CreateSeries(ctx context.Context, idb bun.IDB, series *models.Series, phases []*models.Phase) error
	GetSeries(ctx context.Context, idb bun.IDB, seriesNumber int) (*models.Series, error)
	ListSeries(ctx context.Context, idb bun.IDB) ([]*models.Series, error)
	LowestPendingSeries(ctx context.Context, idb bun.IDB) (*models.Series, error)
	MaxSeriesNumber(ctx context.Context, idb bun.IDB) (int, error)
	UpdateSeries(ctx context.Context, idb bun.IDB, series *models.Series) error
	IncrementSold(ctx context.Context, idb bun.IDB, seriesNumber int) error

	GetPhase(ctx context.Context, idb bun.IDB, seriesNumber, phaseNumber int) (*models.Phase, error)
	ListPhases(ctx context.Context, idb bun.IDB, seriesNumber int) ([]*models.Phase, error)
	LastPhaseNumber(ctx context.Context, idb bun.IDB, seriesNumber int) (int, error)
	UpdatePhase(ctx context.Context, idb bun.IDB, phase *models.Phase) error
}

type scheduleRepository struct {
	*BaseRepository
}

func NewScheduleRepository(db *bun.DB) ScheduleRepository {
	return &scheduleRepository{BaseRepository: NewBaseRepository(db)}
}

// EnsureState creates the single schedule_state row if it is missing.
func (r *scheduleRepository) EnsureState(ctx context.Context, idb bun.IDB) error {
	state := &models.ScheduleState{
		ID:        models.ScheduleStateID,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := idb.NewInsert().
		Model(state).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure schedule state: %w", err)
	}
	return nil
}

func (r *scheduleRepository) GetState(ctx context.Context, idb bun.IDB) (*models.ScheduleState, error) {
	state := new(models.ScheduleState)
	err := idb.NewSelect().
		Model(state).
		Where("id = ?", models.ScheduleStateID).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("get", "schedule state", models.ScheduleStateID, err)
	}
	return state, nil
}

// CompareAndSwapState writes state only if the stored version still equals
// state.Version, then bumps the version. It reports false when another
// writer got there first.
func (r *scheduleRepository) CompareAndSwapState(ctx context.Context, idb bun.IDB, state *models.ScheduleState) (bool, error) {
	expected := state.Version
	state.Version = expected + 1
	state.UpdatedAt = time.Now().UTC()

	res, err := idb.NewUpdate().
		Model(state).
		Column("active_series_number", "active_phase_number", "paused", "paused_at", "halted", "version", "updated_at").
		Where("id = ?", models.ScheduleStateID).
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		state.Version = expected
		return false, fmt.Errorf("failed to update schedule state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		state.Version = expected
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		state.Version = expected
		return false, nil
	}
	return true, nil
}

func (r *scheduleRepository) CreateSeries(ctx context.Context, idb bun.IDB, series *models.Series, phases []*models.Phase) error {
	now := time.Now().UTC()
	series.CreatedAt, series.UpdatedAt = now, now
	if _, err := idb.NewInsert().Model(series).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create series %d: %w", series.SeriesNumber, err)
	}
	if len(phases) == 0 {
		return nil
	}
	for _, p := range phases {
		p.CreatedAt, p.UpdatedAt = now, now
	}
	if _, err := idb.NewInsert().Model(&phases).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create phases of series %d: %w", series.SeriesNumber, err)
	}
	return nil
}

func (r *scheduleRepository) GetSeries(ctx context.Context, idb bun.IDB, seriesNumber int) (*models.Series, error) {
	series := new(models.Series)
	err := idb.NewSelect().
		Model(series).
		Where("series_number = ?", seriesNumber).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("get", "series", seriesNumber, err)
	}
	return series, nil
}

func (r *scheduleRepository) ListSeries(ctx context.Context, idb bun.IDB) ([]*models.Series, error) {
	var series []*models.Series
	err := idb.NewSelect().
		Model(&series).
		Order("series_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	return series, nil
}

// LowestPendingSeries returns nil, nil when no series is waiting.
func (r *scheduleRepository) LowestPendingSeries(ctx context.Context, idb bun.IDB) (*models.Series, error) {
	series := new(models.Series)
	err := idb.NewSelect().
		Model(series).
		Where("status = ?", models.EpochStatusPending).
		Order("series_number ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending series: %w", err)
	}
	return series, nil
}

func (r *scheduleRepository) MaxSeriesNumber(ctx context.Context, idb bun.IDB) (int, error) {
	var n sql.NullInt64
	err := idb.NewSelect().
		Model((*models.Series)(nil)).
		ColumnExpr("MAX(series_number)").
		Scan(ctx, &n)
	if err != nil {
		return 0, fmt.Errorf("failed to get max series number: %w", err)
	}
	return int(n.Int64), nil
}

func (r *scheduleRepository) UpdateSeries(ctx context.Context, idb bun.IDB, series *models.Series) error {
	series.UpdatedAt = time.Now().UTC()
	_, err := idb.NewUpdate().
		Model(series).
		Column("multiplier", "status", "sell_through_rate", "started_at", "completed_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update series %d: %w", series.SeriesNumber, err)
	}
	return nil
}

func (r *scheduleRepository) IncrementSold(ctx context.Context, idb bun.IDB, seriesNumber int) error {
	_, err := idb.NewUpdate().
		Model((*models.Series)(nil)).
		Set("sold_count = sold_count + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("series_number = ?", seriesNumber).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to increment sold count of series %d: %w", seriesNumber, err)
	}
	return nil
}

func (r *scheduleRepository) GetPhase(ctx context.Context, idb bun.IDB, seriesNumber, phaseNumber int) (*models.Phase, error) {
	phase := new(models.Phase)
	err := idb.NewSelect().
		Model(phase).
		Where("series_number = ?", seriesNumber).
		Where("phase_number = ?", phaseNumber).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("get", "phase", fmt.Sprintf("%d.%d", seriesNumber, phaseNumber), err)
	}
	return phase, nil
}

func (r *scheduleRepository) ListPhases(ctx context.Context, idb bun.IDB, seriesNumber int) ([]*models.Phase, error) {
	var phases []*models.Phase
	err := idb.NewSelect().
		Model(&phases).
		Where("series_number = ?", seriesNumber).
		Order("phase_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases of series %d: %w", seriesNumber, err)
	}
	return phases, nil
}

func (r *scheduleRepository) LastPhaseNumber(ctx context.Context, idb bun.IDB, seriesNumber int) (int, error) {
	var n sql.NullInt64
	err := idb.NewSelect().
		Model((*models.Phase)(nil)).
		ColumnExpr("MAX(phase_number)").
		Where("series_number = ?", seriesNumber).
		Scan(ctx, &n)
	if err != nil {
		return 0, fmt.Errorf("failed to get last phase of series %d: %w", seriesNumber, err)
	}
	return int(n.Int64), nil
}

func (r *scheduleRepository) UpdatePhase(ctx context.Context, idb bun.IDB, phase *models.Phase) error {
	phase.UpdatedAt = time.Now().UTC()
	_, err := idb.NewUpdate().
		Model(phase).
		Column("start_date", "total_paused_ms", "status", "completed_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update phase %d.%d: %w", phase.SeriesNumber, phase.PhaseNumber, err)
	}
	return nil
}
