package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// TrainTestSplit partitions rows with a seeded shuffle. The test part holds
// ceil(n*testSize) rows, the train part the rest.
func TrainTestSplit(f *Frame, testSize float64, seed int64) (train, test *Frame, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size %v must be in (0,1)", testSize)
	}
	n := f.Len()
	nTest := int(math.Ceil(float64(n) * testSize))
	if n < 2 || nTest == 0 || nTest >= n {
		return nil, nil, fmt.Errorf("%w: %d rows cannot be split with test size %v", ErrEmptyDataset, n, testSize)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return f.Take(perm[nTest:]), f.Take(perm[:nTest]), nil
}
