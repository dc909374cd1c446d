package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EpochStatus string

const (
	EpochStatusPending   EpochStatus = "PENDING"
	EpochStatusActive    EpochStatus = "ACTIVE"
	EpochStatusCompleted EpochStatus = "COMPLETED"
)

// Series is a release epoch. Multiplier is the step factor derived from the
// previous series' sell-through; series 1 always carries 1.0.
type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	SeriesNumber    int         `bun:"series_number,pk" json:"series_number"`
	Multiplier      float64     `bun:"multiplier,notnull,default:1" json:"multiplier"`
	TotalItems      int64       `bun:"total_items,notnull" json:"total_items"`
	SoldCount       int64       `bun:"sold_count,notnull,default:0" json:"sold_count"`
	Status          EpochStatus `bun:"status,notnull" json:"status"`
	SellThroughRate float64     `bun:"sell_through_rate,notnull,default:0" json:"sell_through_rate"`
	StartedAt       time.Time   `bun:"started_at,nullzero" json:"started_at"`
	CompletedAt     time.Time   `bun:"completed_at,nullzero" json:"completed_at"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// Phase is a time-boxed sub-epoch of a series.
type Phase struct {
	bun.BaseModel `bun:"table:phases,alias:p"`

	SeriesNumber  int         `bun:"series_number,pk" json:"series_number"`
	PhaseNumber   int         `bun:"phase_number,pk" json:"phase_number"`
	DurationDays  int         `bun:"duration_days,notnull" json:"duration_days"`
	StartDate     time.Time   `bun:"start_date,nullzero" json:"start_date"`
	TotalPausedMs int64       `bun:"total_paused_ms,notnull,default:0" json:"total_paused_ms"`
	Status        EpochStatus `bun:"status,notnull" json:"status"`
	CompletedAt   time.Time   `bun:"completed_at,nullzero" json:"completed_at"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// EndTime is start + duration + accumulated pause time.
func (p *Phase) EndTime() time.Time {
	return p.StartDate.
		Add(time.Duration(p.DurationDays) * 24 * time.Hour).
		Add(time.Duration(p.TotalPausedMs) * time.Millisecond)
}

// ScheduleStateID is the primary key of the only schedule_state row.
const ScheduleStateID = 1

// ScheduleState is the single-row pointer to the active series and phase.
// Every transition bumps Version with a conditional update.
type ScheduleState struct {
	bun.BaseModel `bun:"table:schedule_state,alias:ss"`

	ID                 int       `bun:"id,pk" json:"id"`
	ActiveSeriesNumber int       `bun:"active_series_number,notnull,default:0" json:"active_series_number"`
	ActivePhaseNumber  int       `bun:"active_phase_number,notnull,default:0" json:"active_phase_number"`
	Paused             bool      `bun:"paused,notnull,default:false" json:"paused"`
	PausedAt           time.Time `bun:"paused_at,nullzero" json:"paused_at"`
	Halted             bool      `bun:"halted,notnull,default:false" json:"halted"`
	Version            int64     `bun:"version,notnull,default:0" json:"version"`

	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}
