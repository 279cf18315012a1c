package motifrank

import (
	"fmt"
	"io"
	"math"
	"sort"
)

// motifResult is the complete per-motif outcome. Rows for motifs that
// did not converge keep NaN statistics but still appear in the table.
type motifResult struct {
	MotifID   string
	Coef      float64
	StdErr    float64
	Pval      float64
	NPresent  int
	Converged bool
	Reason    string

	// filled in by aggregate
	AbsCoef float64
	Padj    float64
	PadjSig int
}

// bhAdjust applies the Benjamini-Hochberg step-up correction. Input
// order is preserved in the output.
func bhAdjust(pvals []float64) []float64 {
	n := len(pvals)
	adj := make([]float64, n)
	if n == 0 {
		return adj
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return pvals[order[a]] < pvals[order[b]] })
	running := math.Inf(1)
	for rank := n; rank >= 1; rank-- {
		i := order[rank-1]
		v := pvals[i] * float64(n) / float64(rank)
		if v > 1 {
			v = 1
		}
		if v < running {
			running = v
		}
		adj[i] = running
	}
	return adj
}

// aggregate computes the derived columns and the final deterministic
// ordering. Only converged rows enter the BH correction denominator.
func aggregate(results []motifResult, padjThresh float64, sortAbs bool) []motifResult {
	var converged []int
	var pvals []float64
	for i, r := range results {
		if r.Converged {
			converged = append(converged, i)
			pvals = append(pvals, r.Pval)
		}
	}
	adj := bhAdjust(pvals)
	for i := range results {
		results[i].AbsCoef = math.Abs(results[i].Coef)
		results[i].Padj = math.NaN()
	}
	for j, i := range converged {
		results[i].Padj = adj[j]
		if adj[j] <= padjThresh {
			results[i].PadjSig = 1
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].PadjSig != results[b].PadjSig {
			return results[a].PadjSig > results[b].PadjSig
		}
		ka, kb := results[a].Coef, results[b].Coef
		if sortAbs {
			ka, kb = results[a].AbsCoef, results[b].AbsCoef
		}
		switch {
		case math.IsNaN(ka):
			return false
		case math.IsNaN(kb):
			return true
		default:
			return ka > kb
		}
	})
	return results
}

// writeResults writes the ranked table as TSV. Flagged rows print NaN
// statistics and an empty padj.
func writeResults(w io.Writer, results []motifResult) error {
	_, err := fmt.Fprintln(w, "motif_id\tcoef\tabs_coef\tpval\tpadj\tpadj_sig\tn_present\tconverged")
	if err != nil {
		return err
	}
	for _, r := range results {
		padj := ""
		if !math.IsNaN(r.Padj) {
			padj = fmt.Sprintf("%g", r.Padj)
		}
		_, err = fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%s\t%d\t%d\t%v\n",
			r.MotifID, r.Coef, r.AbsCoef, r.Pval, padj, r.PadjSig, r.NPresent, r.Converged)
		if err != nil {
			return err
		}
	}
	return nil
}
