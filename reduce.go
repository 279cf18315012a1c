package motifrank

import (
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// varianceExplained is the cumulative explained-variance target for the
// principal component projection of the raw covariates.
const varianceExplained = 0.99

// standardize rescales a to zero mean and unit variance, in place.
// A constant column is centered only.
func standardize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// reduceCovariates standardizes the raw covariate columns and projects
// them onto the minimal set of principal components explaining at least
// varianceExplained of their variance. The returned columns are
// standardized again after projection. Degenerate inputs (no columns,
// failed decomposition) reduce to zero components rather than failing.
func reduceCovariates(raw *covariateSet) [][]float64 {
	nc := len(raw.cols)
	if nc == 0 {
		return nil
	}
	for _, col := range raw.cols {
		standardize(col)
	}
	if nc == 1 {
		// nothing to decorrelate
		return raw.cols
	}
	nr := len(raw.cols[0])
	flat := make([]float64, nr*nc)
	for ci, col := range raw.cols {
		for ri, v := range col {
			flat[ri*nc+ci] = v
		}
	}
	x := mat.NewDense(nr, nc, flat)

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		log.Warn("covariate matrix decomposition failed, continuing with zero reduced covariates")
		return nil
	}
	vars := pc.VarsTo(nil)
	total := 0.0
	for _, v := range vars {
		total += v
	}
	if total <= 0 {
		log.Warn("covariate matrix has zero variance, continuing with zero reduced covariates")
		return nil
	}
	keep := 0
	cum := 0.0
	for _, v := range vars {
		keep++
		cum += v
		if cum/total >= varianceExplained {
			break
		}
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	var proj mat.Dense
	proj.Mul(x, vecs.Slice(0, nc, 0, keep))

	log.Infof("reduced %d covariates to %d principal components (%.1f%% variance)",
		nc, keep, 100*cum/total)

	comps := make([][]float64, keep)
	for ci := range comps {
		col := make([]float64, nr)
		for ri := range col {
			col[ri] = proj.At(ri, ci)
		}
		standardize(col)
		comps[ci] = col
	}
	return comps
}
