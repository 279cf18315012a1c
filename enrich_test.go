package motifrank

import (
	"bytes"
	"math"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type enrichSuite struct{}

var _ = check.Suite(&enrichSuite{})

func parseResultTable(c *check.C, out string) (header []string, rows map[string][]string, order []string) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	c.Assert(len(lines) > 1, check.Equals, true)
	header = strings.Split(lines[0], "\t")
	rows = map[string][]string{}
	for _, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		c.Assert(fields, check.HasLen, len(header))
		rows[fields[0]] = fields
		order = append(order, fields[0])
	}
	return
}

func (s *enrichSuite) TestEnrichScoreOnly(c *check.C) {
	var stdout, stderr bytes.Buffer
	code := (&enrichcmd{}).RunCommand("motifrank enrich",
		[]string{"-sequences", "testdata/peaks.fa", "-motifs", "testdata/motifs.jaspar", "-k", "0"},
		strings.NewReader(""), &stdout, &stderr)
	c.Assert(code, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))

	header, rows, order := parseResultTable(c, stdout.String())
	c.Check(header, check.DeepEquals, []string{"motif_id", "coef", "abs_coef", "pval", "padj", "padj_sig", "n_present", "converged"})
	c.Assert(rows, check.HasLen, 2)

	planted := rows["MPLANT.1"]
	c.Assert(planted, check.NotNil)
	c.Check(planted[6], check.Equals, "6") // n_present
	c.Check(planted[7], check.Equals, "true")
	c.Check(strings.HasPrefix(planted[1], "-"), check.Equals, false) // positive coef
	c.Check(planted[5], check.Equals, "1")

	control := rows["MCTRL.1"]
	c.Assert(control, check.NotNil)
	c.Check(control[6], check.Equals, "0")
	c.Check(control[7], check.Equals, "false")
	c.Check(control[1], check.Equals, "NaN")
	c.Check(control[2], check.Equals, "NaN")
	c.Check(control[4], check.Equals, "") // no adjusted p-value
	c.Check(control[5], check.Equals, "0")

	// significant converged row sorts before the flagged one
	c.Check(order, check.DeepEquals, []string{"MPLANT.1", "MCTRL.1"})
}

func (s *enrichSuite) TestEnrichWithCovariates(c *check.C) {
	var stdout, stderr bytes.Buffer
	code := (&enrichcmd{}).RunCommand("motifrank enrich",
		[]string{"-sequences", "testdata/peaks.fa", "-scores", "testdata/scores.tsv",
			"-motifs", "testdata/motifs.jaspar", "-covariates", "testdata/covariates.tsv",
			"-k", "1", "-use-gc", "-use-length", "-concurrency", "3"},
		strings.NewReader(""), &stdout, &stderr)
	c.Assert(code, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))

	_, rows, _ := parseResultTable(c, stdout.String())
	c.Assert(rows, check.HasLen, 2)
	c.Check(rows["MPLANT.1"][6], check.Equals, "6")
	c.Check(rows["MCTRL.1"][7], check.Equals, "false")
}

func (s *enrichSuite) TestSaveMatrix(c *check.C) {
	npyfile := c.MkDir() + "/design.npy"
	var stdout, stderr bytes.Buffer
	code := (&enrichcmd{}).RunCommand("motifrank enrich",
		[]string{"-sequences", "testdata/peaks.fa", "-motifs", "testdata/motifs.jaspar",
			"-k", "2", "-save-matrix", npyfile},
		strings.NewReader(""), &stdout, &stderr)
	c.Assert(code, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
	buf, err := os.ReadFile(npyfile)
	c.Assert(err, check.IsNil)
	c.Check(bytes.HasPrefix(buf, []byte("\x93NUMPY")), check.Equals, true)
}

func (s *enrichSuite) TestDuplicateNameFatal(c *check.C) {
	var stdout, stderr bytes.Buffer
	code := (&enrichcmd{}).RunCommand("motifrank enrich",
		[]string{"-sequences", "-", "-motifs", "testdata/motifs.jaspar"},
		strings.NewReader(">a 1\nACGT\n>a 2\nTTTT\n"), &stdout, &stderr)
	c.Check(code, check.Equals, 1)
	// a failed run produces no partial result table
	c.Check(stdout.String(), check.Equals, "")
	c.Check(strings.Contains(stderr.String(), "duplicate sequence name"), check.Equals, true)
}

func (s *enrichSuite) TestCovariateMismatchFatal(c *check.C) {
	covfile := c.MkDir() + "/cov.tsv"
	err := os.WriteFile(covfile, []byte("peak_id\tx\npeak01\t1\n"), 0666)
	c.Assert(err, check.IsNil)
	var stdout, stderr bytes.Buffer
	code := (&enrichcmd{}).RunCommand("motifrank enrich",
		[]string{"-sequences", "testdata/peaks.fa", "-motifs", "testdata/motifs.jaspar", "-covariates", covfile},
		strings.NewReader(""), &stdout, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stdout.String(), check.Equals, "")
	c.Check(strings.Contains(stderr.String(), "missing from covariate table"), check.Equals, true)
}

func (s *enrichSuite) TestBadFlagValues(c *check.C) {
	for _, args := range [][]string{
		{"-motifs", "testdata/motifs.jaspar", "-pseudocount", "0"},
		{"-motifs", "testdata/motifs.jaspar", "-pval", "1.5"},
		{"-motifs", "testdata/motifs.jaspar", "-k", "-1"},
		{"-motifs", "testdata/motifs.jaspar", "-padj", "0"},
		{"-motifs", "testdata/motifs.jaspar", "-concurrency", "0"},
		{},
	} {
		var stdout, stderr bytes.Buffer
		code := (&enrichcmd{}).RunCommand("motifrank enrich", args,
			strings.NewReader(""), &stdout, &stderr)
		c.Check(code, check.Equals, 2, check.Commentf("args: %v", args))
	}
}

func (s *enrichSuite) TestConcurrencyInvariance(c *check.C) {
	var first string
	for _, concurrency := range []string{"1", "8"} {
		var stdout, stderr bytes.Buffer
		code := (&enrichcmd{}).RunCommand("motifrank enrich",
			[]string{"-sequences", "testdata/peaks.fa", "-motifs", "testdata/motifs.jaspar",
				"-k", "2", "-concurrency", concurrency},
			strings.NewReader(""), &stdout, &stderr)
		c.Assert(code, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
		if first == "" {
			first = stdout.String()
		} else {
			c.Check(stdout.String(), check.Equals, first)
		}
	}
}

func (s *enrichSuite) TestRunMotifFlagsInvalidMatrix(c *check.C) {
	seqs := []sequence{
		{name: "a", bases: "ACGTACGTACGT", score: 1},
		{name: "b", bases: "TTTTTTTTTTTT", score: 2},
	}
	design := newDesignMatrix([]float64{1, 2}, nil, nil)
	res := runMotif(motifMatrix{ID: "bad", err: InvalidMotifError{ID: "bad", Reason: "zero-width matrix"}},
		seqs, uniformBG, design, enrichmentConfig{pseudocount: 0.001, pval: 0.001}, 1, 2)
	c.Check(res.MotifID, check.Equals, "bad")
	c.Check(res.Converged, check.Equals, false)
	c.Check(math.IsNaN(res.Coef), check.Equals, true)
	c.Check(res.Reason, check.Matches, `invalid motif bad: .*`)
}

func (s *enrichSuite) TestVersionAndUsage(c *check.C) {
	var stdout, stderr bytes.Buffer
	c.Check(RunCommand("motifrank", []string{"version"}, strings.NewReader(""), &stdout, &stderr), check.Equals, 0)
	c.Check(strings.Contains(stdout.String(), "motifrank"), check.Equals, true)

	stdout.Reset()
	c.Check(RunCommand("motifrank", []string{"no-such-command"}, strings.NewReader(""), &stdout, &stderr), check.Equals, 2)
	c.Check(RunCommand("motifrank", nil, strings.NewReader(""), &stdout, &stderr), check.Equals, 2)
}

func (s *enrichSuite) TestStatsCommand(c *check.C) {
	var stdout, stderr bytes.Buffer
	code := (&statscmd{}).RunCommand("motifrank stats",
		[]string{"-i", "testdata/peaks.fa"},
		strings.NewReader(""), &stdout, &stderr)
	c.Assert(code, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
	out := stdout.String()
	c.Check(strings.Contains(out, `"Sequences":16`), check.Equals, true)
	c.Check(strings.Contains(out, `"LengthMin":20`), check.Equals, true)
	c.Check(strings.Contains(out, `"LengthMax":20`), check.Equals, true)
	c.Check(strings.Contains(out, `"ScoreMax":10`), check.Equals, true)
}
