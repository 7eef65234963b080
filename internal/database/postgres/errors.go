package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/featureserv/internal/errs"
)

// SQLSTATE classes / codes that change how an error is reported.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassConnection   = "08"
	pgErrQueryCanceled  = "57014"
	pgErrInvalidAuth    = "28P01"
	pgErrUndefinedTable = "42P01"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
// The server message is kept in Message: it is what ends up in the
// error envelope shown to ArcGIS clients.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var already *errs.Error
	if errors.As(err, &already) {
		return err
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := errs.ErrKindQueryFailed
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgClassConnection, pgErr.Code == pgErrInvalidAuth:
			kind = errs.ErrKindConnectionFailed
		case pgErr.Code == pgErrQueryCanceled:
			kind = errs.ErrKindTimeout
		case pgErr.Code == pgErrUndefinedTable:
			kind = errs.ErrKindNotFound
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Fallthrough: connection-level errors (TLS, network, auth)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
