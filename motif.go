package motifrank

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// motifMatrix is one position weight matrix from the motif database.
// probs holds per-position nucleotide probabilities (ACGT order).
// A structurally invalid matrix is kept, with err set, so it can be
// reported as a flagged result without aborting the run.
type motifMatrix struct {
	ID    string
	Name  string
	probs [][4]float64
	err   error
}

type InvalidMotifError struct {
	ID     string
	Reason string
}

func (e InvalidMotifError) Error() string {
	return fmt.Sprintf("invalid motif %s: %s", e.ID, e.Reason)
}

var jasparRowTrim = strings.NewReplacer("[", " ", "]", " ")

// readMotifs parses a JASPAR-format motif database: a `>ID name`
// header followed by four count rows, either `A [ 1 2 3 ]` style or
// bare whitespace-separated numbers in ACGT order.
func readMotifs(rdr io.Reader) ([]motifMatrix, error) {
	var motifs []motifMatrix
	var rows [][]float64
	var rowBases []int
	var cur *motifMatrix

	flush := func() {
		if cur == nil {
			return
		}
		cur.probs, cur.err = countsToProbs(cur.ID, rows, rowBases)
		motifs = append(motifs, *cur)
		cur = nil
	}

	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 1<<20), 1<<24)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '>' {
			flush()
			fields := strings.Fields(line[1:])
			if len(fields) == 0 {
				return nil, fmt.Errorf("line %d: empty motif header", lineno)
			}
			cur = &motifMatrix{ID: fields[0]}
			if len(fields) > 1 {
				cur.Name = strings.Join(fields[1:], " ")
			}
			rows = nil
			rowBases = nil
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("line %d: matrix row before motif header", lineno)
		}
		base := -1
		rest := line
		if len(line) > 1 && baseIndex(line[0]) >= 0 && (line[1] == ' ' || line[1] == '\t' || line[1] == '[') {
			base = baseIndex(line[0])
			rest = line[1:]
		}
		var row []float64
		for _, field := range strings.Fields(jasparRowTrim.Replace(rest)) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: motif %s: cannot parse count %q", lineno, cur.ID, field)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
		rowBases = append(rowBases, base)
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	valid := 0
	for _, m := range motifs {
		if m.err == nil {
			valid++
		}
	}
	if valid == 0 {
		return nil, ErrEmptyMotifSet
	}
	return motifs, nil
}

// countsToProbs validates the four count rows and normalizes each
// column to probabilities.
func countsToProbs(id string, rows [][]float64, rowBases []int) ([][4]float64, error) {
	if len(rows) != 4 {
		return nil, InvalidMotifError{ID: id, Reason: fmt.Sprintf("%d matrix rows, need 4", len(rows))}
	}
	width := len(rows[0])
	if width == 0 {
		return nil, InvalidMotifError{ID: id, Reason: "zero-width matrix"}
	}
	counts := make([][]float64, 4)
	seen := [4]bool{}
	for i, row := range rows {
		base := rowBases[i]
		if base < 0 {
			base = i
		}
		if seen[base] {
			return nil, InvalidMotifError{ID: id, Reason: "duplicate nucleotide row"}
		}
		seen[base] = true
		if len(row) != width {
			return nil, InvalidMotifError{ID: id, Reason: "matrix rows have unequal lengths"}
		}
		counts[base] = row
	}
	probs := make([][4]float64, width)
	for pos := 0; pos < width; pos++ {
		total := 0.0
		for b := 0; b < 4; b++ {
			if counts[b][pos] < 0 {
				return nil, InvalidMotifError{ID: id, Reason: "negative count"}
			}
			total += counts[b][pos]
		}
		if total == 0 {
			return nil, InvalidMotifError{ID: id, Reason: fmt.Sprintf("column %d sums to zero", pos)}
		}
		for b := 0; b < 4; b++ {
			probs[pos][b] = counts[b][pos] / total
		}
	}
	return probs, nil
}

// preparedMotif is a motif compiled against a background distribution:
// log-odds matrices for both strands plus the score threshold derived
// from the configured p-value. Read-only after prepareMotif, so safe to
// share across goroutines.
type preparedMotif struct {
	id        string
	width     int
	fwd       [][4]float64
	rev       [][4]float64
	minScore  []float64 // per forward position, used for degenerate bases
	minRev    []float64
	threshold float64
	revcomp   bool
}

// prepareMotif builds log-odds scores
//
//	lo[pos][b] = log2((p + pc*bg[b]) / ((1+pc) * bg[b]))
//
// and derives the presence threshold from pval via the exact null
// score distribution under bg.
func prepareMotif(m motifMatrix, bg [4]float64, pseudocount, pval float64, revcomp bool) (*preparedMotif, error) {
	if m.err != nil {
		return nil, m.err
	}
	width := len(m.probs)
	pm := &preparedMotif{
		id:      m.ID,
		width:   width,
		fwd:     make([][4]float64, width),
		rev:     make([][4]float64, width),
		revcomp: revcomp,
	}
	for pos := 0; pos < width; pos++ {
		for b := 0; b < 4; b++ {
			pm.fwd[pos][b] = math.Log2((m.probs[pos][b] + pseudocount*bg[b]) / ((1 + pseudocount) * bg[b]))
		}
	}
	for pos := 0; pos < width; pos++ {
		for b := 0; b < 4; b++ {
			pm.rev[pos][b] = pm.fwd[width-1-pos][3-b]
		}
	}
	pm.minScore = columnMins(pm.fwd)
	pm.minRev = columnMins(pm.rev)
	pm.threshold = thresholdFromP(pm.fwd, bg, pval)
	return pm, nil
}

func columnMins(lo [][4]float64) []float64 {
	mins := make([]float64, len(lo))
	for pos, col := range lo {
		m := col[0]
		for _, v := range col[1:] {
			if v < m {
				m = v
			}
		}
		mins[pos] = m
	}
	return mins
}

// thresholdGranularity is the log-odds discretization step used when
// building the null score distribution.
const thresholdGranularity = 1e-3

// thresholdFromP computes the smallest score t such that a random
// sequence drawn from bg scores >= t with probability at most pval.
// The distribution is exact up to discretization: scores are scaled to
// integers and convolved column by column.
func thresholdFromP(lo [][4]float64, bg [4]float64, pval float64) float64 {
	width := len(lo)
	ilo := make([][4]int, width)
	minSum, maxSum := 0, 0
	for pos := 0; pos < width; pos++ {
		cmin, cmax := math.MaxInt32, math.MinInt32
		for b := 0; b < 4; b++ {
			v := int(math.Round(lo[pos][b] / thresholdGranularity))
			ilo[pos][b] = v
			if v < cmin {
				cmin = v
			}
			if v > cmax {
				cmax = v
			}
		}
		minSum += cmin
		maxSum += cmax
	}
	size := maxSum - minSum + 1
	dist := make([]float64, size)
	next := make([]float64, size)
	// dist[s] == P(sum of first n columns == s+offset), offset grows
	// by the column minimum at each step.
	dist[0] = 1
	offset := 0
	for pos := 0; pos < width; pos++ {
		cmin := ilo[pos][0]
		for _, v := range ilo[pos][1:] {
			if v < cmin {
				cmin = v
			}
		}
		for i := range next {
			next[i] = 0
		}
		for s, p := range dist {
			if p == 0 {
				continue
			}
			for b := 0; b < 4; b++ {
				next[s+ilo[pos][b]-cmin] += p * bg[b]
			}
		}
		dist, next = next, dist
		offset += cmin
	}
	tail := 0.0
	for s := size - 1; s >= 0; s-- {
		if tail+dist[s] > pval {
			// score s itself would push the tail past pval
			return float64(s+1+offset) * thresholdGranularity
		}
		tail += dist[s]
	}
	// everything passes
	return float64(offset) * thresholdGranularity
}
