package motifrank

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// scoreAt scores one window of seq against one strand's log-odds
// matrix. Degenerate bases take the column minimum.
func scoreAt(seq string, start int, lo [][4]float64, mins []float64) float64 {
	score := 0.0
	for pos := range lo {
		if b := baseIndex(seq[start+pos]); b >= 0 {
			score += lo[pos][b]
		} else {
			score += mins[pos]
		}
	}
	return score
}

// matchEpsilon absorbs the rounding between the discretized threshold
// grid and float window scores.
const matchEpsilon = thresholdGranularity / 2

// present reports whether the motif matches seq anywhere above
// threshold, on either strand when revcomp scanning is enabled.
// Sequences shorter than the motif never match.
func (pm *preparedMotif) present(seq string) bool {
	for start := 0; start+pm.width <= len(seq); start++ {
		if scoreAt(seq, start, pm.fwd, pm.minScore) >= pm.threshold-matchEpsilon {
			return true
		}
		if pm.revcomp && scoreAt(seq, start, pm.rev, pm.minRev) >= pm.threshold-matchEpsilon {
			return true
		}
	}
	return false
}

type match struct {
	pos    int
	strand byte // '+' or '-'
	score  float64
}

// bestMatch returns the highest-scoring match above threshold, if any.
// Ties prefer the leftmost position, then the + strand.
func (pm *preparedMotif) bestMatch(seq string) (match, bool) {
	cutoff := pm.threshold - matchEpsilon
	var best match
	found := false
	for start := 0; start+pm.width <= len(seq); start++ {
		if score := scoreAt(seq, start, pm.fwd, pm.minScore); score >= cutoff && (!found || score > best.score) {
			best = match{pos: start, strand: '+', score: score}
			found = true
		}
		if !pm.revcomp {
			continue
		}
		if score := scoreAt(seq, start, pm.rev, pm.minRev); score >= cutoff && (!found || score > best.score) {
			best = match{pos: start, strand: '-', score: score}
			found = true
		}
	}
	return best, found
}

// presenceVector scans all sequences in order. Row order matches the
// input sequence order exactly.
func (pm *preparedMotif) presenceVector(seqs []sequence) []bool {
	presence := make([]bool, len(seqs))
	for i, seq := range seqs {
		presence[i] = pm.present(seq.bases)
	}
	return presence
}

// scancmd writes per-(motif, sequence) match detail as TSV.
type scancmd struct {
	sequenceFile string
	scoreFile    string
	motifFile    string
	pseudocount  float64
	pval         float64
	revcomp      bool
	concurrency  int
}

func (cmd *scancmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.sequenceFile, "sequences", "-", "scored FASTA input `file`")
	flags.StringVar(&cmd.scoreFile, "scores", "", "optional two-column TSV score `file`")
	flags.StringVar(&cmd.motifFile, "motifs", "", "JASPAR motif database `file`")
	flags.Float64Var(&cmd.pseudocount, "pseudocount", 0.001, "matrix smoothing pseudocount")
	flags.Float64Var(&cmd.pval, "pval", 0.001, "match p-value threshold")
	flags.BoolVar(&cmd.revcomp, "revcomp", true, "scan both strands")
	flags.IntVar(&cmd.concurrency, "concurrency", runtime.NumCPU(), "max concurrent motif scans")
	outputFilename := flags.String("o", "-", "output `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.motifFile == "" {
		fmt.Fprintln(stderr, "cannot scan without -motifs argument")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	seqs, motifs, err := loadInputs(cmd.sequenceFile, cmd.scoreFile, cmd.motifFile, stdin)
	if err != nil {
		return 1
	}
	bg := background(seqs)

	type motifMatches struct {
		id      string
		matches []match
		seqidx  []int
	}
	results := make([]motifMatches, len(motifs))
	th := &throttle{Max: cmd.concurrency}
	for i, m := range motifs {
		i, m := i, m
		th.Go(func() error {
			results[i].id = m.ID
			pm, err := prepareMotif(m, bg, cmd.pseudocount, cmd.pval, cmd.revcomp)
			if err != nil {
				log.Warnf("skipping %s", err)
				return nil
			}
			for si, seq := range seqs {
				if match, ok := pm.bestMatch(seq.bases); ok {
					results[i].matches = append(results[i].matches, match)
					results[i].seqidx = append(results[i].seqidx, si)
				}
			}
			return nil
		})
	}
	if err = th.Wait(); err != nil {
		return 1
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	fmt.Fprintln(bufw, "motif_id\tseq_name\tstrand\tposition\tscore")
	for _, mm := range results {
		for j, match := range mm.matches {
			fmt.Fprintf(bufw, "%s\t%s\t%c\t%d\t%g\n", mm.id, seqs[mm.seqidx[j]].name, match.strand, match.pos, match.score)
		}
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

// loadInputs reads and validates the sequence set (with scores) and the
// motif database.
func loadInputs(sequenceFile, scoreFile, motifFile string, stdin io.Reader) ([]sequence, []motifMatrix, error) {
	input, err := openInput(sequenceFile, stdin)
	if err != nil {
		return nil, nil, err
	}
	seqs, err := readSequences(input)
	input.Close()
	if err != nil {
		return nil, nil, err
	}
	if scoreFile != "" {
		f, err := openInput(scoreFile, stdin)
		if err != nil {
			return nil, nil, err
		}
		scores, err := readScoreTable(f)
		f.Close()
		if err != nil {
			return nil, nil, err
		}
		if err = applyScores(seqs, scores); err != nil {
			return nil, nil, err
		}
	}
	seqs, err = checkSequences(seqs)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("loaded %d sequences", len(seqs))

	f, err := openInput(motifFile, stdin)
	if err != nil {
		return nil, nil, err
	}
	motifs, err := readMotifs(f)
	f.Close()
	if err != nil {
		return nil, nil, err
	}
	log.Infof("loaded %d motifs", len(motifs))
	return seqs, motifs, nil
}
