package models

// Record is one gemstone observation as it appears in the source dataset.
type Record struct {
	Carat   float64 `json:"carat"`
	Cut     string  `json:"cut"`
	Color   string  `json:"color"`
	Clarity string  `json:"clarity"`
	Depth   float64 `json:"depth"`
	Table   float64 `json:"table"`
	Price   float64 `json:"price"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
}

// RecordColumns lists the source columns a Record is built from, in CSV order.
var RecordColumns = []string{"carat", "cut", "color", "clarity", "depth", "table", "price", "x", "y", "z"}

// FeatureRow is the transformer input: the raw attributes with the derived
// fields (volume, log carat) already computed and the target excluded.
type FeatureRow struct {
	Depth    float64 `json:"depth"`
	Table    float64 `json:"table"`
	Volume   float64 `json:"volume"`
	LogCarat float64 `json:"log_carat"`
	Cut      string  `json:"cut"`
	Color    string  `json:"color"`
	Clarity  string  `json:"clarity"`
}

// Category orderings, lowest rank first.
var (
	CutCategories     = []string{"Fair", "Good", "Very Good", "Premium", "Ideal"}
	ColorCategories   = []string{"D", "E", "F", "G", "H", "I", "J"}
	ClarityCategories = []string{"I1", "SI2", "SI1", "VS2", "VS1", "VVS2", "VVS1", "IF"}
)

// Categories maps a categorical column name to its fixed ordering.
var Categories = map[string][]string{
	"cut":     CutCategories,
	"color":   ColorCategories,
	"clarity": ClarityCategories,
}

// IsCategory reports whether value belongs to the ordering of column.
func IsCategory(column, value string) bool {
	for _, c := range Categories[column] {
		if c == value {
			return true
		}
	}
	return false
}
