package format

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// EsriValue converts a driver value for Esri JSON: dates become epoch
// milliseconds, numerics floats and uuids strings.
func EsriValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UnixMilli()
	case pgtype.Date:
		if !x.Valid {
			return nil
		}
		return x.Time.UnixMilli()
	case pgtype.Timestamp:
		if !x.Valid {
			return nil
		}
		return x.Time.UnixMilli()
	case pgtype.Timestamptz:
		if !x.Valid {
			return nil
		}
		return x.Time.UnixMilli()
	}
	return commonValue(v)
}

// GeoJSONValue converts a driver value for GeoJSON properties. Dates are
// epoch milliseconds there too.
func GeoJSONValue(v any) any {
	return EsriValue(v)
}

func commonValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.UUID:
		if !x.Valid {
			return nil
		}
		return uuid.UUID(x.Bytes).String()
	default:
		return v
	}
}
