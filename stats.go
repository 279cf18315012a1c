package motifrank

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// statscmd summarizes a scored FASTA set as JSON: counts, length and
// score ranges, base composition.
type statscmd struct {
	scoreFile string
}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "scored FASTA input `file`")
	flags.StringVar(&cmd.scoreFile, "scores", "", "optional two-column TSV score `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	input, err := openInput(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	seqs, err := readSequences(input)
	input.Close()
	if err != nil {
		return 1
	}
	if cmd.scoreFile != "" {
		f, err2 := openInput(cmd.scoreFile, stdin)
		if err2 != nil {
			err = err2
			return 1
		}
		scores, err2 := readScoreTable(f)
		f.Close()
		if err2 != nil {
			err = err2
			return 1
		}
		if err = applyScores(seqs, scores); err != nil {
			return 1
		}
	}
	seqs, err = checkSequences(seqs)
	if err != nil {
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
	err = doStats(seqs, bufw)
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

func doStats(seqs []sequence, output io.Writer) error {
	var ret struct {
		Sequences  int
		LengthMin  int
		LengthMax  int
		LengthMean float64
		ScoreMin   float64
		ScoreMax   float64
		ScoreMean  float64
		GCFraction float64
		Background [4]float64
	}
	ret.Sequences = len(seqs)
	ret.LengthMin = len(seqs[0].bases)
	ret.ScoreMin = seqs[0].score
	ret.ScoreMax = seqs[0].score
	totalLen := 0
	totalGC := 0.0
	for _, seq := range seqs {
		n := len(seq.bases)
		totalLen += n
		if n < ret.LengthMin {
			ret.LengthMin = n
		}
		if n > ret.LengthMax {
			ret.LengthMax = n
		}
		if seq.score < ret.ScoreMin {
			ret.ScoreMin = seq.score
		}
		if seq.score > ret.ScoreMax {
			ret.ScoreMax = seq.score
		}
		ret.ScoreMean += seq.score
		totalGC += gcFraction(seq.bases) * float64(n)
	}
	ret.LengthMean = float64(totalLen) / float64(len(seqs))
	ret.ScoreMean /= float64(len(seqs))
	ret.GCFraction = totalGC / float64(totalLen)
	ret.Background = background(seqs)
	return json.NewEncoder(output).Encode(&ret)
}
