/*
Grandconv computes, for every independent pair of branches in a
phylogenetic tree, the posterior expected probabilities of convergent
and divergent amino-acid substitutions, fits the non-parametric null
relation between them, and emits the data files for the interactive
Data Explorer.

The input is a bolt bundle produced by the upstream ancestral-state
reconstruction phase:

	grandconv posterior.gcdb

Per-site output for chosen branch pairs and a GPU backend can be
requested:

	grandconv --gpu --branch-pairs "(2,4),(3,7)" posterior.gcdb

To see all the options run:

	grandconv -h
*/
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/dekoninglab/grandconv/backend"
	"github.com/dekoninglab/grandconv/conv"
	"github.com/dekoninglab/grandconv/dist"
	"github.com/dekoninglab/grandconv/regress"
	"github.com/dekoninglab/grandconv/sink"
	"github.com/dekoninglab/grandconv/store"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("grandconv")
var formatter = logging.MustStringFormatter(`%{message}`)

// exit codes
const (
	exitOK = iota
	exitInvalidInput
	exitIO
	exitBackend
	exitNumeric
)

// command-line options
var (
	// application
	app = kingpin.New("grandconv", "convergent and divergent substitution probabilities over branch pairs").Version(version)

	// input bundle
	bundleFileName = app.Arg("bundle", "posterior bundle produced by the reconstruction phase").Required().ExistingFile()

	// computation
	useGPU       = app.Flag("gpu", "use a GPU backend when one is available").Bool()
	gpuMandatory = app.Flag("gpu-mandatory", "fail when no GPU backend can be initialized instead of falling back to the CPU").Bool()
	nThreads     = app.Flag("nt", "number of threads to use").Int()
	seqType      = app.Flag("seqtype", "sequence type (aa, codon or nt)").Default("aa").Enum("aa", "codon", "nt")
	branchPairs  = app.Flag("branch-pairs", "branch pairs for per-site output, e.g. \"(2,4),(3,7)\"").String()
	useCP        = app.Flag("checkpoint", "reuse and store kernel results in the bundle").Bool()

	// site rate classes
	alpha = app.Flag("alpha", "gamma shape parameter for site rate classes").Default("1").Float64()
	ncatg = app.Flag("ncatg", "number of gamma rate classes").Default("4").Int()

	// input/output
	outDir   = app.Flag("dir", "output root directory").Default(".").String()
	htmlName = app.Flag("html", "name of the generated explorer page").Default("results.html").String()
	outLogF  = app.Flag("log", "write log to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json run summary to a file").String()
)

// seqTypeN maps the sequence type to the state-space size.
var seqTypeN = map[string]int{
	"aa":    20,
	"codon": 61,
	"nt":    4,
}

// parseBranchPairs parses a "(u,v),(u,v),..." selection string.
func parseBranchPairs(s string) ([][2]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var pairs [][2]int
	for _, group := range strings.Split(s, "),") {
		group = strings.TrimSpace(group)
		group = strings.TrimPrefix(group, "(")
		group = strings.TrimSuffix(group, ")")
		parts := strings.Split(group, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed branch pair %q", group)
		}
		u, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed branch pair %q: %v", group, err)
		}
		v, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("malformed branch pair %q: %v", group, err)
		}
		pairs = append(pairs, [2]int{u, v})
	}
	return pairs, nil
}

// run executes the pipeline and returns the summary and an exit code.
func run() (summary *RunSummary, code int) {
	startTime := time.Now()
	summary = &RunSummary{}

	selected, err := parseBranchPairs(*branchPairs)
	if err != nil {
		log.Error(err)
		return summary, exitInvalidInput
	}

	st, err := store.Open(*bundleFileName, !*useCP)
	if err != nil {
		log.Error(err)
		return summary, exitIO
	}
	defer st.Close()

	bundle, err := st.LoadBundle()
	if err != nil {
		log.Error(err)
		return summary, exitInvalidInput
	}

	if n := seqTypeN[*seqType]; bundle.Tensor.N != n {
		log.Errorf("Bundle has n=%d, sequence type %s requires n=%d", bundle.Tensor.N, *seqType, n)
		return summary, exitInvalidInput
	}

	t := bundle.Tree
	log.Infof("Tree: %d leaves, %d nodes", t.NLeaves(), t.NNodes())
	log.Debug(t.FullString())

	pairs, err := conv.Pairs(t, selected)
	if err != nil {
		log.Error(err)
		return summary, exitInvalidInput
	}
	summary.NumBranchPairs = len(pairs)
	summary.NumSelected = conv.NumSelected(pairs)
	summary.NumSites = bundle.Tensor.NSites
	summary.NStates = bundle.Tensor.N

	var result *conv.Result
	digest := ""

	if *useCP {
		digest = bundle.Digest()
		if summary.NumSelected == 0 {
			data, err := st.LoadResults(digest)
			if err != nil {
				log.Error(err)
				return summary, exitIO
			}
			if data != nil && len(data.PConvergent) == len(pairs) {
				result = conv.NewResult(pairs, bundle.Tensor.NSites)
				copy(result.PConvergent, data.PConvergent)
				copy(result.PDivergent, data.PDivergent)
				summary.Backend = data.Backend
				summary.CheckpointUsed = true
			}
		}
	}

	if result == nil {
		d, err := backend.Select(*useGPU, *gpuMandatory)
		if err != nil {
			log.Error(err)
			return summary, exitBackend
		}
		defer d.Shutdown()

		result, err = d.Run(bundle.Tensor, pairs)
		if err != nil {
			log.Error(err)
			return summary, exitBackend
		}
		summary.Backend = d.Backend()
		summary.Device = d.Device().Name
		summary.Precision = d.Device().Precision.String()

		if *useCP {
			err = st.SaveResults(&store.ResultData{
				Digest:      digest,
				Backend:     d.Backend(),
				PConvergent: result.PConvergent,
				PDivergent:  result.PDivergent,
			})
			if err != nil {
				log.Warning("Could not checkpoint results: ", err)
			}
		}
	}

	slope, intercept, err := regress.TheilSen(result.PDivergent, result.PConvergent)
	if err != nil {
		log.Error(err)
		if errors.Is(err, regress.ErrDegenerate) {
			return summary, exitNumeric
		}
		return summary, exitInvalidInput
	}
	log.Noticef("Regression: slope=%v, intercept=%v", slope, intercept)
	summary.RegressionSlope = slope
	summary.RegressionIntercept = intercept

	postNumSub := bundle.PostNumSub
	if postNumSub == nil {
		postNumSub = bundle.Tensor.ExpectedSubs(t.ID)
	}
	var siteClass []int
	if bundle.SiteRates != nil {
		siteClass = dist.SiteClasses(bundle.SiteRates, *alpha, *ncatg)
	}

	s := sink.New(*outDir, *htmlName)
	if err = s.Write(t, result, slope, intercept, postNumSub, siteClass); err != nil {
		log.Error(err)
		return summary, exitIO
	}

	summary.Time = time.Since(startTime).Seconds()
	log.Noticef("Running time: %v", time.Since(startTime))
	return summary, exitOK
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var logBackend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		logBackend = logging.NewLogBackend(f, "", 0)
	} else {
		logBackend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(logBackend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, module := range []string{"grandconv", "tree", "conv", "backend", "regress", "sink", "store"} {
		logging.SetLevel(level, module)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *nThreads > 0 {
		runtime.GOMAXPROCS(*nThreads)
	}
	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	summary, code := run()
	summary.NThreads = effectiveNThreads
	summary.Version = version
	summary.CommandLine = os.Args

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
				if code == exitOK {
					code = exitIO
				}
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}

	os.Exit(code)
}
