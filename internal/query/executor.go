package query

import (
	"context"
	"errors"
	"time"

	"github.com/koustreak/featureserv/internal/database"
	"github.com/koustreak/featureserv/internal/errs"
	"github.com/koustreak/featureserv/internal/schema"
)

// Result is one page of rows.
type Result struct {
	Records []database.Record

	// Exceeded is set when more rows matched than the page holds.
	Exceeded bool
}

// Estimate is the answer to getEstimates.
type Estimate struct {
	Count  int64
	Extent *schema.Extent // nil when no geometry matched
}

// Executor runs statements with a time budget. The connection is released
// whenever the statement finishes, even after the caller stopped waiting.
type Executor struct {
	db      database.DB
	timeout time.Duration
}

// NewExecutor creates an executor. timeout <= 0 disables the budget.
func NewExecutor(db database.DB, timeout time.Duration) *Executor {
	return &Executor{db: db, timeout: timeout}
}

// Run executes a Select statement and trims the probe row.
func (e *Executor) Run(ctx context.Context, stmt Statement) (*Result, error) {
	records, err := database.WithDeadline(ctx, e.timeout, func(ctx context.Context) ([]database.Record, error) {
		rows, err := e.db.Query(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, err
		}
		return database.ScanRecords(rows)
	})
	if err != nil {
		return nil, e.classify(err)
	}

	res := &Result{Records: records}
	if stmt.Limit > 0 && len(records) > stmt.Limit {
		res.Records = records[:stmt.Limit]
		res.Exceeded = true
	}
	return res, nil
}

// Estimate executes an Estimate statement.
func (e *Executor) Estimate(ctx context.Context, stmt Statement) (*Estimate, error) {
	est, err := database.WithDeadline(ctx, e.timeout, func(ctx context.Context) (*Estimate, error) {
		var (
			count                  int64
			xmin, ymin, xmax, ymax *float64
		)
		if err := e.db.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&count, &xmin, &ymin, &xmax, &ymax); err != nil {
			return nil, err
		}
		out := &Estimate{Count: count}
		if xmin != nil && ymin != nil && xmax != nil && ymax != nil {
			out.Extent = &schema.Extent{XMin: *xmin, YMin: *ymin, XMax: *xmax, YMax: *ymax}
		}
		return out, nil
	})
	if err != nil {
		return nil, e.classify(err)
	}
	return est, nil
}

// classify folds driver errors into the query taxonomy: timeouts become
// QueryTimeout, everything else QueryFailed with the database message.
func (e *Executor) classify(err error) error {
	if errors.Is(err, database.ErrDeadline) {
		return errs.Newf(errs.ErrKindQueryTimeout, "query timed out after %s", e.timeout)
	}

	var dbErr *errs.Error
	if !errors.As(err, &dbErr) {
		return errs.Wrap(errs.ErrKindQueryFailed, "query failed", err)
	}
	switch dbErr.Kind {
	case errs.ErrKindQueryFailed, errs.ErrKindQueryTimeout, errs.ErrKindInvalidInput:
		return err
	case errs.ErrKindTimeout:
		return errs.Wrap(errs.ErrKindQueryTimeout, dbErr.Message, dbErr.Cause)
	default:
		return errs.Wrap(errs.ErrKindQueryFailed, dbErr.Message, dbErr.Cause)
	}
}
