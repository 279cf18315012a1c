package motifrank

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

var unitNormal = distuv.Normal{Mu: 0, Sigma: 1}

// designMatrix holds the shared predictors for every per-motif fit:
// the standardized score column plus the reduced (and external)
// covariate columns. Built once, read-only afterwards.
type designMatrix struct {
	names     []string
	cols      [][]statmodel.Dtype
	constants []statmodel.Dtype
	n         int
}

// newDesignMatrix standardizes the score vector and assembles it with
// the already-standardized covariate columns. Column order: score
// first, then reduced components, then external covariates.
func newDesignMatrix(scores []float64, reduced [][]float64, external *covariateSet) *designMatrix {
	d := &designMatrix{n: len(scores)}
	scoreCol := make([]statmodel.Dtype, len(scores))
	copy(scoreCol, scores)
	standardize(scoreCol)
	d.names = append(d.names, "score")
	d.cols = append(d.cols, scoreCol)
	for i, col := range reduced {
		d.names = append(d.names, fmt.Sprintf("pc%d", i))
		d.cols = append(d.cols, col)
	}
	if external != nil {
		for i, col := range external.cols {
			standardize(col)
			d.names = append(d.names, external.names[i])
			d.cols = append(d.cols, col)
		}
	}
	d.constants = make([]statmodel.Dtype, d.n)
	for i := range d.constants {
		d.constants[i] = 1
	}
	return d
}

// fitResult is the tagged outcome of one logistic regression: either a
// converged fit with coefficient, standard error and Wald p-value for
// the score term, or a flagged non-result with the reason recorded.
type fitResult struct {
	coef      float64
	stderr    float64
	pval      float64
	converged bool
	reason    string
}

func flagged(reason string) fitResult {
	return fitResult{coef: math.NaN(), stderr: math.NaN(), pval: math.NaN(), reason: reason}
}

// fitLogistic regresses presence against score and the shared
// covariates:
//
//	logit(P(present)) = b0 + bs*score + sum(bc*covariate_c)
//
// Singular and otherwise degenerate fits are reported as flagged
// results, never as errors or panics.
func fitLogistic(presence []bool, d *designMatrix) (res fitResult) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			res = flagged("singular fit")
		}
	}()

	outcome := make([]statmodel.Dtype, d.n)
	for i, p := range presence {
		if p {
			outcome[i] = 1
		}
	}
	data := append([][]statmodel.Dtype{outcome, d.constants}, d.cols...)
	names := append([]string{"outcome", "constants"}, d.names...)
	dataset := statmodel.NewDataset(data, names)

	model, err := glm.NewGLM(dataset, "outcome", names[1:], glmConfig)
	if err != nil {
		return flagged(err.Error())
	}
	result := model.Fit()
	params := result.Params()
	stderrs := result.StdErr()
	// predictor order is names[1:], so score is at index 1 after the
	// constants column
	coef, se := params[1], stderrs[1]
	if math.IsNaN(coef) || math.IsInf(coef, 0) || math.IsNaN(se) || math.IsInf(se, 0) || se <= 0 {
		return flagged("no convergence")
	}
	z := coef / se
	return fitResult{
		coef:      coef,
		stderr:    se,
		pval:      2 * unitNormal.Survival(math.Abs(z)),
		converged: true,
	}
}
