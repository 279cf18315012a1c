package motifrank

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

type CovariateMismatchError struct {
	Name string
}

func (e CovariateMismatchError) Error() string {
	return fmt.Sprintf("sequence %s missing from covariate table", e.Name)
}

type covariateConfig struct {
	k         int
	useGC     bool
	useLength bool
}

// covariateSet holds the raw bias covariates, column-major. Row order
// (within each column) matches the input sequence order; every
// downstream stage depends on that alignment.
type covariateSet struct {
	names []string
	cols  [][]float64
}

// kmerNames returns all 4^k k-mers in lexicographic ACGT order.
func kmerNames(k int) []string {
	if k <= 0 {
		return nil
	}
	names := []string{""}
	for i := 0; i < k; i++ {
		grown := make([]string, 0, len(names)*4)
		for _, prefix := range names {
			for _, b := range []string{"A", "C", "G", "T"} {
				grown = append(grown, prefix+b)
			}
		}
		names = grown
	}
	return names
}

// kmerIndex maps a k-mer starting at seq[start] to its lexicographic
// index, or -1 if any base is degenerate.
func kmerIndex(seq string, start, k int) int {
	idx := 0
	for i := 0; i < k; i++ {
		b := baseIndex(seq[start+i])
		if b < 0 {
			return -1
		}
		idx = idx<<2 | b
	}
	return idx
}

// kmerFrequencies returns the count of each k-mer divided by the
// number of windows (len-k+1), so scale stays comparable across
// sequences of different length. Windows containing degenerate bases
// count toward the denominator only.
func kmerFrequencies(seq string, k int) []float64 {
	freqs := make([]float64, 1<<(2*k))
	windows := len(seq) - k + 1
	if windows <= 0 {
		return freqs
	}
	for start := 0; start < windows; start++ {
		if idx := kmerIndex(seq, start, k); idx >= 0 {
			freqs[idx]++
		}
	}
	for i := range freqs {
		freqs[i] /= float64(windows)
	}
	return freqs
}

func gcFraction(seq string) float64 {
	gc := 0
	for i := 0; i < len(seq); i++ {
		if b := baseIndex(seq[i]); b == 1 || b == 2 {
			gc++
		}
	}
	if len(seq) == 0 {
		return 0
	}
	return float64(gc) / float64(len(seq))
}

// buildCovariates computes the raw covariate matrix for the fixed-order
// sequence set. With k==0 and both flags off the set is empty and the
// model falls back to score-only regression.
func buildCovariates(seqs []sequence, cfg covariateConfig) *covariateSet {
	cs := &covariateSet{}
	if cfg.k > 0 {
		names := kmerNames(cfg.k)
		cols := make([][]float64, len(names))
		for i := range cols {
			cols[i] = make([]float64, len(seqs))
		}
		for si, seq := range seqs {
			for ki, freq := range kmerFrequencies(seq.bases, cfg.k) {
				cols[ki][si] = freq
			}
		}
		for i, name := range names {
			cs.names = append(cs.names, "kmer_"+name)
			cs.cols = append(cs.cols, cols[i])
		}
	}
	if cfg.useGC {
		col := make([]float64, len(seqs))
		for si, seq := range seqs {
			col[si] = gcFraction(seq.bases)
		}
		cs.names = append(cs.names, "gc")
		cs.cols = append(cs.cols, col)
	}
	if cfg.useLength {
		col := make([]float64, len(seqs))
		for si, seq := range seqs {
			col[si] = float64(len(seq.bases))
		}
		cs.names = append(cs.names, "length")
		cs.cols = append(cs.cols, col)
	}
	return cs
}

// readCovariateTable parses a TSV with a header row: first column is
// the sequence name, remaining columns are numeric covariates.
func readCovariateTable(rdr io.Reader) (names []string, rows map[string][]float64, err error) {
	csvr := csv.NewReader(rdr)
	csvr.Comma = '\t'
	header, err := csvr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("covariate table is empty")
	} else if err != nil {
		return nil, nil, err
	}
	if len(header) < 2 {
		return nil, nil, fmt.Errorf("covariate table needs a name column plus at least one covariate column")
	}
	names = header[1:]
	rows = map[string][]float64{}
	rownum := 1
	for {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, err
		}
		rownum++
		if _, dup := rows[rec[0]]; dup {
			return nil, nil, DuplicateNameError{Name: rec[0]}
		}
		vals := make([]float64, len(rec)-1)
		for i, field := range rec[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("covariate table row %d: cannot parse %q", rownum, field)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("covariate table row %d: non-finite value", rownum)
			}
			vals[i] = v
		}
		rows[rec[0]] = vals
	}
	return names, rows, nil
}

// externalCovariates aligns the covariate table to the sequence order.
// Every sequence must appear in the table; extra table rows are
// ignored.
func externalCovariates(seqs []sequence, names []string, rows map[string][]float64) (*covariateSet, error) {
	cs := &covariateSet{}
	for _, name := range names {
		cs.names = append(cs.names, "user_"+name)
		cs.cols = append(cs.cols, make([]float64, len(seqs)))
	}
	for si, seq := range seqs {
		vals, ok := rows[seq.name]
		if !ok {
			return nil, CovariateMismatchError{Name: seq.name}
		}
		for ci := range names {
			cs.cols[ci][si] = vals[ci]
		}
	}
	return cs, nil
}
