// Package sink writes the run artifacts consumed by the Data Explorer:
// the tree JSON, the data file with scatter and per-site values, the
// HTML pages generated from templates, and a regression scatter plot.
// Every artifact is written to a temporary path and renamed on success,
// so a failed run never clobbers previous outputs.
package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/op/go-logging"

	"github.com/dekoninglab/grandconv/conv"
	"github.com/dekoninglab/grandconv/tree"
)

// log is a global logging variable.
var log = logging.MustGetLogger("sink")

// Sink emits artifacts under dir/UI/User/.
type Sink struct {
	dir      string
	htmlName string
}

// New creates a sink writing under the given output root; htmlName is
// the user-facing page name, e.g. "results.html".
func New(dir, htmlName string) *Sink {
	return &Sink{dir: dir, htmlName: htmlName}
}

// userDir returns the artifact directory.
func (s *Sink) userDir() string {
	return filepath.Join(s.dir, "UI", "User")
}

// dataFileName derives the data file name from the page name:
// results.html becomes resultsData.js.
func (s *Sink) dataFileName() string {
	base := s.htmlName
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base + "Data.js"
}

// Write emits all artifacts. postNumSub and siteClass carry one entry
// per site; either may be nil, in which case zeros are written.
func (s *Sink) Write(t *tree.Tree, res *conv.Result, slope, intercept float64,
	postNumSub []float64, siteClass []int) error {
	if err := os.MkdirAll(s.userDir(), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if err := s.writeTreeJSON(t); err != nil {
		return err
	}
	if err := s.writeData(t, res, slope, intercept, postNumSub, siteClass); err != nil {
		return err
	}
	if err := s.writeExplorer(res); err != nil {
		return err
	}
	if err := s.writeScatter(res, slope, intercept); err != nil {
		return err
	}
	log.Noticef("Wrote artifacts to %s", s.userDir())
	return nil
}

// writeFile writes data to a temporary file in the target directory and
// renames it into place.
func writeFile(path string, data []byte) error {
	tmp, err := ioutil.TempFile(filepath.Dir(path), "."+filepath.Base(path)+".")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

func (s *Sink) writeTreeJSON(t *tree.Tree) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("serializing tree: %w", err)
	}
	return writeFile(filepath.Join(s.userDir(), "tree.json"), b)
}

// pairLabel formats an enumeration label "f(u)..u x f(v)..v".
func pairLabel(t *tree.Tree, p conv.Pair) string {
	nodes := t.Nodes()
	return fmt.Sprintf("%d..%d x %d..%d",
		nodes[p.U].FatherID(), p.U, nodes[p.V].FatherID(), p.V)
}

func (s *Sink) writeData(t *tree.Tree, res *conv.Result, slope, intercept float64,
	postNumSub []float64, siteClass []int) error {
	var buf bytes.Buffer

	sheetFile := "sheet-" + s.htmlName
	siteSpecificFile := "siteSpecific-" + s.htmlName
	rateVsDiversityFile := "rateVsDiversity-" + s.htmlName
	rateVsProbConvergenceFile := "rateVsProbConvergence-" + s.htmlName

	fmt.Fprintf(&buf,
		"function openSheetPopup() { \n"+
			"\t    branchPairTab = window.open(\"%s\", \"branchPairTabViewer\", strWindowFeatures);\n"+
			"\t    var timer = setInterval(function() {\n"+
			"\t    if(branchPairTab.closed) {  \n"+
			"\t        clearInterval(timer);  \n"+
			"\t        $(\".hilighted\").attr({ \n"+
			"\t            fill: '#0000ff', \n"+
			"\t            'fill-opacity': 0.3, \n"+
			"\t            stroke: '#000000' \n"+
			"\t        }); \n"+
			"\t        $('.hilighted').each(function(i,v) { \n"+
			"\t            t=$('#'+v.id).attr('class'); \n"+
			"\t            $('#'+v.id).attr('class',t.replace(/ hilighted/g, \"\")); \n"+
			"\t        }) \n"+
			"\t    }; \n"+
			"\t    }, 1000); \n"+
			"}\n\n"+
			"function openSiteSpecificPopup() {\n"+
			"\t    siteSpecificTab = window.open(\"%s\",  \"siteSpecificTabViewer\", strWindowFeatures);\n"+
			"}\n"+
			"function openRateVsDiversityPopup() {\n"+
			"\t    siteSpecificTab = window.open(\"%s\", \"rateVsDiversityTabViewer\", strWindowFeatures);\n"+
			"}\n"+
			"function openRateVsProbConvergencePopup() {\n"+
			"\t    siteSpecificTab = window.open(\"%s\", \"rateVsProbConvergenceTabViewer\", strWindowFeatures);\n"+
			"}\n\n",
		sheetFile, siteSpecificFile, rateVsDiversityFile, rateVsProbConvergenceFile)

	fmt.Fprintf(&buf, "regressionSlope = %f;\n", slope)
	fmt.Fprintf(&buf, "regressionIntercept = %f;\n", intercept)
	fmt.Fprintf(&buf, "numOfSelectedBranchPairs = %d;\n", res.NumSelected())
	fmt.Fprintf(&buf, "numOfSites = %d;\n", res.NSites)

	treeJSON, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("serializing tree: %w", err)
	}
	fmt.Fprintf(&buf, "tree = %s;\n", treeJSON)

	writeFloatArray(&buf, "xPoints", res.PDivergent)
	writeFloatArray(&buf, "yPoints", res.PConvergent)

	buf.WriteString("labels = [ ")
	for i, p := range res.Pairs {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%q", pairLabel(t, p))
	}
	buf.WriteString(" ];\n")

	if postNumSub == nil {
		postNumSub = make([]float64, res.NSites)
	}
	if siteClass == nil {
		siteClass = make([]int, res.NSites)
	}
	writeFloatArray(&buf, "xPostNumSub", postNumSub)
	buf.WriteString("ySiteClass = [ ")
	for i, c := range siteClass {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%d", c)
	}
	buf.WriteString(" ];\n")

	// per-pair site tables followed by the id and name lists, all in
	// enumeration order
	var ids, names, quoted []string
	sel := 0
	for _, p := range res.Pairs {
		if !p.Selected {
			continue
		}
		id := fmt.Sprintf("BP_%dx%d", p.U, p.V)
		fmt.Fprintf(&buf, "%s = [ ", id)
		first := true
		for site := 0; site < res.NSites; site++ {
			probC, probD := res.SiteRow(sel, site)
			if probC == 0 && probD == 0 {
				continue
			}
			if !first {
				buf.WriteString(", ")
			}
			fmt.Fprintf(&buf, "[%d, %.6f, %.6f]", site, probC, probD)
			first = false
		}
		buf.WriteString(" ];\n")

		ids = append(ids, id)
		names = append(names, fmt.Sprintf("%q", fmt.Sprintf("Branch Pair: %d..%d", p.U, p.V)))
		quoted = append(quoted, fmt.Sprintf("%q", id))
		sel++
	}

	fmt.Fprintf(&buf, "siteSpecificBranchPairs = [ %s ];\n", strings.Join(ids, ", "))
	fmt.Fprintf(&buf, "siteSpecificBranchPairsName = [ %s ];\n", strings.Join(names, ", "))
	fmt.Fprintf(&buf, "siteSpecificBranchPairsIDs = [ %s ];\n", strings.Join(quoted, ", "))

	return writeFile(filepath.Join(s.userDir(), s.dataFileName()), buf.Bytes())
}

func writeFloatArray(buf *bytes.Buffer, name string, values []float64) {
	fmt.Fprintf(buf, "%s = [ ", name)
	for i, v := range values {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(buf, "%.6f", v)
	}
	buf.WriteString(" ];\n")
}
