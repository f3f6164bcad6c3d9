package models

// PredictionRequest is the feature subset a caller submits for one price
// estimate. The target is never part of it. Numeric fields only need to be
// finite: stones under one carat have a negative log_carat.
type PredictionRequest struct {
	LogCarat float64 `json:"log_carat" validate:"finite"`
	Volume   float64 `json:"volume" validate:"finite"`
	Depth    float64 `json:"depth" validate:"finite"`
	Table    float64 `json:"table" validate:"finite"`
	Cut      string  `json:"cut" validate:"required,category=cut"`
	Color    string  `json:"color" validate:"required,category=color"`
	Clarity  string  `json:"clarity" validate:"required,category=clarity"`
}

// FeatureRow converts the request into transformer input.
func (r *PredictionRequest) FeatureRow() FeatureRow {
	return FeatureRow{
		Depth:    r.Depth,
		Table:    r.Table,
		Volume:   r.Volume,
		LogCarat: r.LogCarat,
		Cut:      r.Cut,
		Color:    r.Color,
		Clarity:  r.Clarity,
	}
}

// PredictionResult is a price estimate in currency units.
type PredictionResult struct {
	Price    float64 `json:"price"`
	LogPrice float64 `json:"log_price"`
	RunID    string  `json:"run_id"`
}
