package dataset

import (
	"math"
	"math/rand"

	"github.com/mimir-aip/gemprice/pkg/models"
)

// Synthetic generates n plausible gemstone records. The price follows a
// log-linear relation to carat and the category ranks plus noise, so every
// candidate model has something to learn. Output is fully determined by seed.
func Synthetic(n int, seed int64) []models.Record {
	rng := rand.New(rand.NewSource(seed))
	records := make([]models.Record, n)

	for i := range records {
		carat := round(0.2+rng.ExpFloat64()*0.6, 2)
		if carat > 3.5 {
			carat = 3.5
		}
		cut := rng.Intn(len(models.CutCategories))
		color := rng.Intn(len(models.ColorCategories))
		clarity := rng.Intn(len(models.ClarityCategories))

		// Edge lengths of a round brilliant scale with the cube root of carat.
		side := 6.45 * math.Cbrt(carat)
		x := round(side*(1+rng.NormFloat64()*0.01), 2)
		y := round(side*(1+rng.NormFloat64()*0.01), 2)
		depth := round(61.8+rng.NormFloat64()*1.2, 1)
		z := round((x+y)/2*depth/100, 2)
		table := round(57+rng.NormFloat64()*2, 0)

		logPrice := 8.4 + 1.75*math.Log(carat) +
			0.05*float64(cut) -
			0.07*float64(color) +
			0.08*float64(clarity) +
			rng.NormFloat64()*0.12

		records[i] = models.Record{
			Carat:   carat,
			Cut:     models.CutCategories[cut],
			Color:   models.ColorCategories[color],
			Clarity: models.ClarityCategories[clarity],
			Depth:   depth,
			Table:   table,
			Price:   math.Round(math.Exp(logPrice)),
			X:       x,
			Y:       y,
			Z:       z,
		}
	}
	return records
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
