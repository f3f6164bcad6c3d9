package dataset

import (
	"fmt"
	"strconv"

	"github.com/mimir-aip/gemprice/pkg/models"
)

var numericRecordFields = map[string]func(*models.Record) *float64{
	"carat": func(r *models.Record) *float64 { return &r.Carat },
	"depth": func(r *models.Record) *float64 { return &r.Depth },
	"table": func(r *models.Record) *float64 { return &r.Table },
	"price": func(r *models.Record) *float64 { return &r.Price },
	"x":     func(r *models.Record) *float64 { return &r.X },
	"y":     func(r *models.Record) *float64 { return &r.Y },
	"z":     func(r *models.Record) *float64 { return &r.Z },
}

var categoricalRecordFields = map[string]func(*models.Record) *string{
	"cut":     func(r *models.Record) *string { return &r.Cut },
	"color":   func(r *models.Record) *string { return &r.Color },
	"clarity": func(r *models.Record) *string { return &r.Clarity },
}

// ToRecords converts a frame into typed records. Columns are matched by name,
// extra columns are ignored.
func ToRecords(f *Frame) ([]models.Record, error) {
	records := make([]models.Record, f.Len())

	for name, field := range numericRecordFields {
		values, err := f.Float(name)
		if err != nil {
			return nil, err
		}
		for i := range records {
			*field(&records[i]) = values[i]
		}
	}
	for name, field := range categoricalRecordFields {
		values, err := f.Strings(name)
		if err != nil {
			return nil, err
		}
		for i := range records {
			*field(&records[i]) = values[i]
		}
	}
	return records, nil
}

// FromRecords builds a frame with models.RecordColumns as header
func FromRecords(records []models.Record) (*Frame, error) {
	rows := make([][]string, len(records))
	for i := range records {
		r := &records[i]
		rows[i] = []string{
			formatFloat(r.Carat), r.Cut, r.Color, r.Clarity,
			formatFloat(r.Depth), formatFloat(r.Table), formatFloat(r.Price),
			formatFloat(r.X), formatFloat(r.Y), formatFloat(r.Z),
		}
	}
	f, err := NewFrame(models.RecordColumns, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to build frame: %w", err)
	}
	return f, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
