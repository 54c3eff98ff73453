// Package store is the authoritative relational storage of runs, epochs and
// the exchange/market tables recorded by external collaborators.
package store

import (
	"context"
	"errors"
	"time"

	xerrors "providence/internal/errors"
	"providence/internal/model"
	"providence/internal/model/enum"
	"providence/pkg/exception"

	"gorm.io/gorm"
)

const defaultTimeout = 2 * time.Second

// Store is typed CRUD over run rows plus the transactional height stamp.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

// New wraps db. Every call is bounded by timeout (2s when <= 0).
func New(db *gorm.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{db: db, timeout: timeout}
}

// AutoMigrate creates or updates every table the service reads or writes.
func (s *Store) AutoMigrate(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err := s.db.WithContext(ctx).AutoMigrate(
		&model.Run{},
		&model.Epoch{},
		&model.Candle{},
		&model.PositionRecord{},
		&model.BalanceRecord{},
	)
	return xerrors.Wrap(err, "auto migrate")
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) active(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&model.Run{}).
		Where("exit_run = ? AND corrupted = ?", false, false)
}

// transient marks store failures as retryable. Not-found stays unmarked.
func transient(err error, text string) error {
	if err == nil {
		return nil
	}
	return xerrors.Transient(xerrors.Wrap(err, text))
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// CreateRuns inserts new rows in one statement.
func (s *Store) CreateRuns(ctx context.Context, runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return transient(s.db.WithContext(ctx).Create(&runs).Error, "create runs")
}

// GetRun loads one row. A missing row returns exception.ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (model.Run, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var run model.Run
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if notFound(err) {
		return model.Run{}, xerrors.Wrap(exception.ErrRunNotFound, id)
	}
	if err != nil {
		return model.Run{}, transient(err, "get run "+id)
	}
	return run, nil
}

// CountActive counts runs that are neither exited nor corrupted.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var n int64
	err := s.active(ctx).Count(&n).Error
	return n, transient(err, "count active runs")
}

// ActiveRunIDs lists the ids the scheduler dispatches iterations for.
func (s *Store) ActiveRunIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var ids []string
	err := s.active(ctx).Order("created_at").Pluck("id", &ids).Error
	return ids, transient(err, "list active runs")
}

// ActiveRuns returns the exposure columns of the symbol's active runs.
func (s *Store) ActiveRuns(ctx context.Context, symbol string) ([]model.Run, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var runs []model.Run
	err := s.active(ctx).
		Select("id", "symbol", "position_direction", "risk_pos_size", "exit_run", "corrupted").
		Where("symbol = ?", symbol).
		Find(&runs).Error
	return runs, transient(err, "list active runs of "+symbol)
}

// SaveIteration writes the columns an iteration owns, conditional on the row
// still being active at prevCycle and unchanged since run.Revision was read.
// Every store write bumps the revision, so a row loaded before a height stamp
// or any other write loses here. A lost race returns
// exception.ErrRunStaleState and writes nothing. Height is never touched here.
func (s *Store) SaveIteration(ctx context.Context, run model.Run, prevCycle int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res := s.db.WithContext(ctx).Model(&model.Run{}).
		Where("id = ? AND revision = ? AND last_cycle = ? AND exit_run = ? AND corrupted = ?",
			run.ID, run.Revision, prevCycle, false, false).
		Updates(map[string]any{
			"position_direction": run.PositionDirection,
			"risk_pos_size":      run.RiskPosSize,
			"live_pnl":           run.LivePnL,
			"exit_run":           run.ExitRun,
			"exit_reason":        run.ExitReason,
			"state_blob":         run.StateBlob,
			"last_cycle":         run.LastCycle,
			"exited_at":          run.ExitedAt,
			"updated_at":         run.UpdatedAt,
			"revision":           gorm.Expr("revision + 1"),
		})
	if res.Error != nil {
		return transient(res.Error, "save iteration "+run.ID)
	}
	if res.RowsAffected == 0 {
		return xerrors.Wrap(exception.ErrRunStaleState, run.ID)
	}
	return nil
}

// MarkCorrupted flags a run whose state blob cannot be replayed. It is
// excluded from iterations and exposure but kept for inspection.
func (s *Store) MarkCorrupted(ctx context.Context, id string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err := s.db.WithContext(ctx).Model(&model.Run{}).
		Where("id = ?", id).
		Updates(map[string]any{"corrupted": true, "updated_at": time.Now(), "revision": gorm.Expr("revision + 1")}).Error
	return transient(err, "mark corrupted "+id)
}

// Stamp is the result of one height assignment.
type Stamp struct {
	Height int64
	RunIDs []string
}

// StampHeight allocates the next height and stamps every active run with it
// in a single transaction. exit_run is never touched.
func (s *Store) StampHeight(ctx context.Context) (Stamp, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var stamp Stamp
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&model.Run{}).
			Where("exit_run = ? AND corrupted = ?", false, false).
			Pluck("id", &ids).Error; err != nil {
			return err
		}

		epoch := model.Epoch{RunCount: int64(len(ids))}
		if err := tx.Create(&epoch).Error; err != nil {
			return err
		}

		if len(ids) != 0 {
			if err := tx.Model(&model.Run{}).
				Where("id IN ? AND exit_run = ? AND corrupted = ?", ids, false, false).
				Updates(map[string]any{
					"height":     epoch.ID,
					"updated_at": time.Now(),
					"revision":   gorm.Expr("revision + 1"),
				}).Error; err != nil {
				return err
			}
		}

		stamp = Stamp{Height: epoch.ID, RunIDs: ids}
		return nil
	})
	if err != nil {
		return Stamp{}, transient(err, "stamp height")
	}
	return stamp, nil
}

// MarkStale exits flat, unstamped runs created before cutoff.
func (s *Store) MarkStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res := s.active(ctx).
		Where("height IS NULL AND position_direction = ? AND created_at < ?", 0, cutoff).
		Updates(map[string]any{
			"exit_run":    true,
			"exit_reason": enum.ExitReasonStale,
			"exited_at":   now,
			"updated_at":  now,
			"revision":    gorm.Expr("revision + 1"),
		})
	return res.RowsAffected, transient(res.Error, "mark stale runs")
}

// ExitedBefore lists exited runs whose grace period ended at cutoff.
func (s *Store) ExitedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Run{}).
		Where("exit_run = ? AND exited_at IS NOT NULL AND exited_at < ?", true, cutoff).
		Pluck("id", &ids).Error
	return ids, transient(err, "list exited runs")
}

// DeleteRuns removes the given runs. Rows with exit_run=false are never deleted.
func (s *Store) DeleteRuns(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res := s.db.WithContext(ctx).
		Where("id IN ? AND exit_run = ?", ids, true).
		Delete(&model.Run{})
	return res.RowsAffected, transient(res.Error, "delete runs")
}

// CohortPnL returns live PnL samples of active runs, either of the current
// cohort (height unset) or of stamped cohorts.
func (s *Store) CohortPnL(ctx context.Context, stamped bool) ([]float64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := s.db.WithContext(ctx).Model(&model.Run{}).Where("corrupted = ?", false)
	if stamped {
		q = q.Where("height IS NOT NULL")
	} else {
		q = q.Where("height IS NULL AND exit_run = ?", false)
	}

	var pnls []float64
	err := q.Pluck("live_pnl", &pnls).Error
	return pnls, transient(err, "cohort pnl")
}
