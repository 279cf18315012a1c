package motifrank

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// enrichcmd runs the full enrichment pipeline: scan every motif
// against the scored sequence set, control for composition bias via
// reduced covariates, fit one logistic regression per motif, and rank
// the corrected results.
type enrichcmd struct {
	sequenceFile  string
	scoreFile     string
	motifFile     string
	covariateFile string
	pseudocount   float64
	pval          float64
	kmerK         int
	useGC         bool
	useLength     bool
	revcomp       bool
	padjThresh    float64
	sortAbs       bool
	concurrency   int
	matrixFile    string
}

func (cmd *enrichcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	flags.StringVar(&cmd.covariateFile, "covariates", "", "optional external covariate TSV `file`")
	flags.Float64Var(&cmd.pseudocount, "pseudocount", 0.001, "matrix smoothing pseudocount")
	flags.Float64Var(&cmd.pval, "pval", 0.001, "match p-value threshold")
	flags.IntVar(&cmd.kmerK, "k", 2, "k-mer `size` for composition covariates (0 to disable)")
	flags.BoolVar(&cmd.useGC, "use-gc", false, "add GC-fraction covariate")
	flags.BoolVar(&cmd.useLength, "use-length", false, "add sequence-length covariate")
	flags.BoolVar(&cmd.revcomp, "revcomp", true, "scan both strands")
	flags.Float64Var(&cmd.padjThresh, "padj", 0.05, "adjusted p-value significance threshold")
	flags.BoolVar(&cmd.sortAbs, "sort-abs", false, "sort by absolute coefficient")
	flags.IntVar(&cmd.concurrency, "concurrency", runtime.NumCPU(), "max concurrent motif fits")
	flags.StringVar(&cmd.matrixFile, "save-matrix", "", "write the standardized design matrix to a .npy `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.motifFile == "" {
		fmt.Fprintln(stderr, "cannot run enrichment without -motifs argument")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)
	if err = cmd.validate(); err != nil {
		return 2
	}

	seqs, motifs, err := loadInputs(cmd.sequenceFile, cmd.scoreFile, cmd.motifFile, stdin)
	if err != nil {
		return 1
	}
	var external *covariateSet
	if cmd.covariateFile != "" {
		f, err2 := openInput(cmd.covariateFile, stdin)
		if err2 != nil {
			err = err2
			return 1
		}
		names, rows, err2 := readCovariateTable(f)
		f.Close()
		if err2 != nil {
			err = err2
			return 1
		}
		external, err = externalCovariates(seqs, names, rows)
		if err != nil {
			return 1
		}
	}

	results, design, err := runEnrichment(seqs, motifs, enrichmentConfig{
		pseudocount: cmd.pseudocount,
		pval:        cmd.pval,
		covariates:  covariateConfig{k: cmd.kmerK, useGC: cmd.useGC, useLength: cmd.useLength},
		external:    external,
		revcomp:     cmd.revcomp,
		padjThresh:  cmd.padjThresh,
		sortAbs:     cmd.sortAbs,
		concurrency: cmd.concurrency,
	})
	if err != nil {
		return 1
	}

	if cmd.matrixFile != "" {
		err = saveDesignMatrix(cmd.matrixFile, design)
		if err != nil {
			return 1
		}
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
	err = writeResults(bufw, results)
	if err != nil {
		return 1
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

func (cmd *enrichcmd) validate() error {
	if !(cmd.pseudocount > 0) {
		return fmt.Errorf("-pseudocount must be > 0")
	}
	if !(cmd.pval > 0 && cmd.pval < 1) {
		return fmt.Errorf("-pval must be in (0,1)")
	}
	if cmd.kmerK < 0 {
		return fmt.Errorf("-k must be >= 0")
	}
	if !(cmd.padjThresh > 0 && cmd.padjThresh <= 1) {
		return fmt.Errorf("-padj must be in (0,1]")
	}
	if cmd.concurrency < 1 {
		return fmt.Errorf("-concurrency must be >= 1")
	}
	return nil
}

type enrichmentConfig struct {
	pseudocount float64
	pval        float64
	covariates  covariateConfig
	external    *covariateSet
	revcomp     bool
	padjThresh  float64
	sortAbs     bool
	concurrency int
}

// runEnrichment is the core pipeline. The covariate construction and
// reduction run once, sequentially; per-motif scan+fit units then run
// concurrently against the shared read-only design matrix, and the
// final aggregation waits for all of them.
func runEnrichment(seqs []sequence, motifs []motifMatrix, cfg enrichmentConfig) ([]motifResult, *designMatrix, error) {
	if !cfg.covariates.useLength {
		for _, seq := range seqs[1:] {
			if len(seq.bases) != len(seqs[0].bases) {
				log.Warn("sequences have unequal lengths; consider -use-length")
				break
			}
		}
	}

	bg := background(seqs)
	log.Infof("background frequencies A=%.3f C=%.3f G=%.3f T=%.3f", bg[0], bg[1], bg[2], bg[3])

	log.Info("building covariates")
	raw := buildCovariates(seqs, cfg.covariates)
	reduced := reduceCovariates(raw)

	scores := make([]float64, len(seqs))
	for i, seq := range seqs {
		scores[i] = seq.score
	}
	design := newDesignMatrix(scores, reduced, cfg.external)

	// The smallest and largest hit counts worth fitting; anything
	// outside is degenerate and gets flagged instead.
	minPresent := 3
	if v := int(math.Round(float64(len(seqs)) * 1e-3)); v > minPresent {
		minPresent = v
	}
	maxPresent := len(seqs) - minPresent

	log.Infof("fitting %d motifs", len(motifs))
	results := make([]motifResult, len(motifs))
	th := &throttle{Max: cfg.concurrency}
	for i, m := range motifs {
		i, m := i, m
		th.Go(func() error {
			results[i] = runMotif(m, seqs, bg, design, cfg, minPresent, maxPresent)
			return nil
		})
	}
	if err := th.Wait(); err != nil {
		return nil, nil, err
	}

	return aggregate(results, cfg.padjThresh, cfg.sortAbs), design, nil
}

// runMotif is one unit of work: scan one motif against every sequence,
// then fit. All failure modes surface as a flagged result.
func runMotif(m motifMatrix, seqs []sequence, bg [4]float64, design *designMatrix, cfg enrichmentConfig, minPresent, maxPresent int) motifResult {
	res := motifResult{MotifID: m.ID}
	pm, err := prepareMotif(m, bg, cfg.pseudocount, cfg.pval, cfg.revcomp)
	if err != nil {
		log.Warnf("%s", err)
		res.Coef, res.StdErr, res.Pval = math.NaN(), math.NaN(), math.NaN()
		res.Reason = err.Error()
		return res
	}
	presence := pm.presenceVector(seqs)
	for _, p := range presence {
		if p {
			res.NPresent++
		}
	}
	var fit fitResult
	switch {
	case res.NPresent == 0 || res.NPresent == len(seqs):
		fit = flagged("no variation in motif presence")
	case res.NPresent < minPresent:
		fit = flagged(fmt.Sprintf("motif present in fewer than %d sequences", minPresent))
	case res.NPresent > maxPresent:
		fit = flagged(fmt.Sprintf("motif present in more than %d sequences", maxPresent))
	default:
		fit = fitLogistic(presence, design)
	}
	res.Coef = fit.coef
	res.StdErr = fit.stderr
	res.Pval = fit.pval
	res.Converged = fit.converged
	res.Reason = fit.reason
	if !fit.converged {
		log.Debugf("motif %s flagged: %s", m.ID, fit.reason)
	}
	return res
}

// saveDesignMatrix writes the standardized predictors (score column
// first) as a float64 .npy matrix, one row per sequence.
func saveDesignMatrix(filename string, design *designMatrix) error {
	rows, cols := design.n, len(design.cols)
	out := make([]float64, rows*cols)
	for ci, col := range design.cols {
		for ri, v := range col {
			out[ri*cols+ci] = v
		}
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
