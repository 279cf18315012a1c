package motifrank

import (
	"fmt"
	"math"
	"strings"

	"gopkg.in/check.v1"
)

type aggregateSuite struct{}

var _ = check.Suite(&aggregateSuite{})

func (s *aggregateSuite) TestBHAdjust(c *check.C) {
	adj := bhAdjust([]float64{0.01, 0.04, 0.03, 0.002})
	c.Assert(adj, check.HasLen, 4)
	c.Check(fmt.Sprintf("%.7f", adj[0]), check.Equals, "0.0200000")
	c.Check(fmt.Sprintf("%.7f", adj[1]), check.Equals, "0.0400000")
	c.Check(fmt.Sprintf("%.7f", adj[2]), check.Equals, "0.0400000")
	c.Check(fmt.Sprintf("%.7f", adj[3]), check.Equals, "0.0080000")

	c.Check(bhAdjust(nil), check.HasLen, 0)

	// single test: adjustment is a no-op
	adj = bhAdjust([]float64{0.7})
	c.Check(adj[0], check.Equals, 0.7)
}

func (s *aggregateSuite) TestBHMonotone(c *check.C) {
	pvals := []float64{0.5, 0.001, 0.04, 0.2, 0.01, 0.9, 0.06}
	adj := bhAdjust(pvals)
	// adjusted values are non-decreasing in raw p-value order
	order := make([]int, len(pvals))
	for i := range order {
		order[i] = i
	}
	for i := range order {
		for j := i + 1; j < len(order); j++ {
			if pvals[order[j]] < pvals[order[i]] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	for i := 1; i < len(order); i++ {
		c.Check(adj[order[i]] >= adj[order[i-1]], check.Equals, true)
	}
	for _, v := range adj {
		c.Check(v <= 1.0, check.Equals, true)
	}
}

func (s *aggregateSuite) TestAggregateFlagsAndSort(c *check.C) {
	results := []motifResult{
		{MotifID: "m1", Coef: 1.5, Pval: 0.004, NPresent: 10, Converged: true},
		{MotifID: "m2", Coef: math.NaN(), Pval: math.NaN(), NPresent: 0, Reason: "no variation in motif presence"},
		{MotifID: "m3", Coef: -2.5, Pval: 0.002, NPresent: 12, Converged: true},
		{MotifID: "m4", Coef: 0.2, Pval: 0.8, NPresent: 5, Converged: true},
	}
	ranked := aggregate(results, 0.05, false)

	// BH denominator counts only the three converged motifs
	byID := map[string]motifResult{}
	for _, r := range ranked {
		byID[r.MotifID] = r
	}
	c.Check(fmt.Sprintf("%.7f", byID["m3"].Padj), check.Equals, "0.0060000")
	c.Check(fmt.Sprintf("%.7f", byID["m1"].Padj), check.Equals, "0.0060000")
	c.Check(fmt.Sprintf("%.7f", byID["m4"].Padj), check.Equals, "0.8000000")
	c.Check(math.IsNaN(byID["m2"].Padj), check.Equals, true)

	c.Check(byID["m1"].PadjSig, check.Equals, 1)
	c.Check(byID["m3"].PadjSig, check.Equals, 1)
	c.Check(byID["m4"].PadjSig, check.Equals, 0)
	c.Check(byID["m2"].PadjSig, check.Equals, 0)

	// abs_coef matches coef for every row, flagged included
	for _, r := range ranked {
		if math.IsNaN(r.Coef) {
			c.Check(math.IsNaN(r.AbsCoef), check.Equals, true)
		} else {
			c.Check(r.AbsCoef, check.Equals, math.Abs(r.Coef))
		}
	}

	// significant rows first, then by coef descending, flagged last
	c.Check(ranked[0].MotifID, check.Equals, "m1")
	c.Check(ranked[1].MotifID, check.Equals, "m3")
	c.Check(ranked[2].MotifID, check.Equals, "m4")
	c.Check(ranked[3].MotifID, check.Equals, "m2")
}

func (s *aggregateSuite) TestAggregateSortAbs(c *check.C) {
	results := []motifResult{
		{MotifID: "m1", Coef: 1.5, Pval: 0.5, NPresent: 10, Converged: true},
		{MotifID: "m2", Coef: -2.5, Pval: 0.6, NPresent: 12, Converged: true},
		{MotifID: "m3", Coef: 2.0, Pval: 0.7, NPresent: 8, Converged: true},
	}
	ranked := aggregate(results, 0.05, true)
	c.Check(ranked[0].MotifID, check.Equals, "m2")
	c.Check(ranked[1].MotifID, check.Equals, "m3")
	c.Check(ranked[2].MotifID, check.Equals, "m1")
}

func (s *aggregateSuite) TestStableTieOrder(c *check.C) {
	// ties keep motif-database order
	results := []motifResult{
		{MotifID: "first", Coef: 1.0, Pval: 0.5, NPresent: 5, Converged: true},
		{MotifID: "second", Coef: 1.0, Pval: 0.5, NPresent: 5, Converged: true},
	}
	ranked := aggregate(results, 0.05, false)
	c.Check(ranked[0].MotifID, check.Equals, "first")
	c.Check(ranked[1].MotifID, check.Equals, "second")
}

func (s *aggregateSuite) TestWriteResults(c *check.C) {
	var buf strings.Builder
	err := writeResults(&buf, []motifResult{
		{MotifID: "m1", Coef: 1.5, AbsCoef: 1.5, Pval: 0.004, Padj: 0.012, PadjSig: 1, NPresent: 10, Converged: true},
		{MotifID: "m2", Coef: math.NaN(), AbsCoef: math.NaN(), Pval: math.NaN(), Padj: math.NaN(), NPresent: 0},
	})
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	c.Assert(lines, check.HasLen, 3)
	c.Check(lines[0], check.Equals, "motif_id\tcoef\tabs_coef\tpval\tpadj\tpadj_sig\tn_present\tconverged")
	c.Check(lines[1], check.Equals, "m1\t1.5\t1.5\t0.004\t0.012\t1\t10\ttrue")
	c.Check(lines[2], check.Equals, "m2\tNaN\tNaN\tNaN\t\t0\t0\tfalse")
}
