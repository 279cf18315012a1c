package motifrank

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// sequence is one scored input sequence. Loaded once, read-only for the
// rest of the run.
type sequence struct {
	name  string
	bases string
	score float64
}

var (
	ErrEmptySequenceSet = errors.New("no sequences in input")
	ErrEmptyMotifSet    = errors.New("no valid motifs in input")
)

type DuplicateNameError struct {
	Name string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate sequence name %q", e.Name)
}

// maxDegenerateFrac drops sequences whose non-ACGT fraction is at or
// above this bound before any analysis.
const maxDegenerateFrac = 0.5

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gzr, err := pgzip.NewReader(bufio.NewReaderSize(f, 1<<20))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: gzip: %w", path, err)
		}
		return &gzReadCloser{gzr, f}, nil
	}
	return f, nil
}

type gzReadCloser struct {
	*pgzip.Reader
	f *os.File
}

func (r *gzReadCloser) Close() error {
	err := r.Reader.Close()
	if err2 := r.f.Close(); err == nil {
		err = err2
	}
	return err
}

// readSequences parses FASTA. If the header line has a second
// whitespace-separated field, it is taken as the sequence score;
// otherwise all scores must come from a separate score table (see
// applyScores). Names must be unique and the set non-empty.
func readSequences(rdr io.Reader) ([]sequence, error) {
	var seqs []sequence
	seen := map[string]bool{}
	var cur *sequence
	var hasScore bool
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 1<<20), 1<<28)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '>' {
			fields := strings.Fields(line[1:])
			if len(fields) == 0 {
				return nil, fmt.Errorf("line %d: empty FASTA header", lineno)
			}
			name := fields[0]
			if seen[name] {
				return nil, DuplicateNameError{Name: name}
			}
			seen[name] = true
			seqs = append(seqs, sequence{name: name, score: math.NaN()})
			cur = &seqs[len(seqs)-1]
			if len(fields) > 1 {
				score, err := strconv.ParseFloat(fields[1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: sequence %s: cannot parse score %q", lineno, name, fields[1])
				}
				cur.score = score
				hasScore = true
			} else if hasScore {
				return nil, fmt.Errorf("line %d: sequence %s: missing score in header", lineno, name)
			}
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("line %d: sequence data before FASTA header", lineno)
		}
		cur.bases += strings.ToUpper(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, ErrEmptySequenceSet
	}
	return seqs, nil
}

// readScoreTable parses a two-column TSV (name, score), optionally with
// a header row.
func readScoreTable(rdr io.Reader) (map[string]float64, error) {
	csvr := csv.NewReader(rdr)
	csvr.Comma = '\t'
	csvr.FieldsPerRecord = 2
	scores := map[string]float64{}
	row := 0
	for {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		row++
		score, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			if row == 1 {
				// header row
				continue
			}
			return nil, fmt.Errorf("score table row %d: cannot parse score %q", row, rec[1])
		}
		if _, dup := scores[rec[0]]; dup {
			return nil, DuplicateNameError{Name: rec[0]}
		}
		scores[rec[0]] = score
	}
	return scores, nil
}

func applyScores(seqs []sequence, scores map[string]float64) error {
	for i := range seqs {
		score, ok := scores[seqs[i].name]
		if !ok {
			return fmt.Errorf("sequence %s: no score in score table", seqs[i].name)
		}
		seqs[i].score = score
	}
	return nil
}

// checkSequences enforces the fatal input invariants and applies the
// degenerate-sequence filter. Returns the retained sequences in input
// order.
func checkSequences(seqs []sequence) ([]sequence, error) {
	kept := make([]sequence, 0, len(seqs))
	dropped := 0
	for _, seq := range seqs {
		if math.IsNaN(seq.score) || math.IsInf(seq.score, 0) {
			return nil, fmt.Errorf("sequence %s: score is not a finite number", seq.name)
		}
		if len(seq.bases) == 0 {
			return nil, fmt.Errorf("sequence %s: empty sequence", seq.name)
		}
		degen := 0
		for i := 0; i < len(seq.bases); i++ {
			if baseIndex(seq.bases[i]) < 0 {
				degen++
			}
		}
		if float64(degen)/float64(len(seq.bases)) >= maxDegenerateFrac {
			log.Warnf("dropping sequence %s: %d/%d degenerate bases", seq.name, degen, len(seq.bases))
			dropped++
			continue
		}
		kept = append(kept, seq)
	}
	if dropped > 0 {
		log.Warnf("dropped %d sequences with too many degenerate bases", dropped)
	}
	if len(kept) == 0 {
		return nil, ErrEmptySequenceSet
	}
	return kept, nil
}

// background returns the mononucleotide frequencies across all
// sequences, with add-one smoothing so no frequency is zero.
func background(seqs []sequence) [4]float64 {
	var counts [4]float64
	for _, seq := range seqs {
		for i := 0; i < len(seq.bases); i++ {
			if b := baseIndex(seq.bases[i]); b >= 0 {
				counts[b]++
			}
		}
	}
	total := 0.0
	for _, c := range counts {
		total += c
	}
	if counts[0] == 0 || counts[1] == 0 || counts[2] == 0 || counts[3] == 0 {
		for b := range counts {
			counts[b]++
		}
		total += 4
	}
	var bg [4]float64
	for b, c := range counts {
		bg[b] = c / total
	}
	return bg
}

func baseIndex(b byte) int {
	switch b {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	default:
		return -1
	}
}
