package sink

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dekoninglab/grandconv/conv"
)

//go:embed templates
var templates embed.FS

// noPairsPlaceholder is shown instead of the per-pair plots when the
// user selected no branch pairs.
const noPairsPlaceholder = "<h4 style=\"float:left; margin-left:70px\"> Branch Pairs must be provided for this plot (see the <i>--branch-pairs</i> parameter)</h4>"

// explorerPages maps template names to output name prefixes. The main
// page keeps the user-supplied name.
var explorerPages = []struct {
	template string
	prefix   string
}{
	{"Template.html", ""},
	{"sheet-template.html", "sheet-"},
	{"siteSpecific-template.html", "siteSpecific-"},
	{"rateVsDiversity-template.html", "rateVsDiversity-"},
	{"rateVsProbConvergence-template.html", "rateVsProbConvergence-"},
}

// writeExplorer generates the five HTML pages from the embedded
// templates.
func (s *Sink) writeExplorer(res *conv.Result) error {
	var selected []conv.Pair
	for _, p := range res.Pairs {
		if p.Selected {
			selected = append(selected, p)
		}
	}

	for _, page := range explorerPages {
		src, err := templates.ReadFile("templates/" + page.template)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", page.template, err)
		}
		out := expandTemplate(src, s.dataFileName(), selected)
		path := filepath.Join(s.userDir(), page.prefix+s.htmlName)
		if err := writeFile(path, out); err != nil {
			return err
		}
	}
	return nil
}

// expandTemplate copies the template and inserts generated markup after
// each marker line. Markers absent from a template are no-ops.
func expandTemplate(src []byte, dataFile string, selected []conv.Pair) []byte {
	var buf bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(src))
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if strings.Contains(line, "@dataTag") {
			fmt.Fprintf(&buf, "<script src=\"%s\"></script>\n", dataFile)
		}
		if strings.Contains(line, "@tableAndPlot") {
			writePairSheets(&buf, selected)
			if len(selected) == 0 {
				buf.WriteString(noPairsPlaceholder)
			}
		}
		if strings.Contains(line, "@rateVsDivPlot") {
			writePairSheets(&buf, selected)
		}
		if strings.Contains(line, "@plot") && !strings.Contains(line, "@rateVsDivPlot") && !strings.Contains(line, "@tableAndPlot") {
			writePairFigures(&buf, selected)
			if len(selected) == 0 {
				buf.WriteString(noPairsPlaceholder)
			}
		}
	}
	return buf.Bytes()
}

// writePairSheets emits the bar plot and sheet containers for every
// selected pair.
func writePairSheets(buf *bytes.Buffer, selected []conv.Pair) {
	for _, p := range selected {
		fmt.Fprintf(buf,
			"<div id=\"BP_%dx%d-barPlot\"></div>\n"+
				"<div data-collapse style=\"float:centre\">\n"+
				"\t<h4 style=\"float:centre; margin-left:500px\"> Sites <br> Branch Pair: %d..%d </h4>\n"+
				"<div id=\"BP_%dx%d-sheet\" style=\"float:centre; margin-left:150px; margin-right:150px\"></div>\n"+
				"</div><br>\n\n",
			p.U, p.V, p.U, p.V, p.U, p.V)
	}
}

// writePairFigures emits the scatter containers for every selected pair.
func writePairFigures(buf *bytes.Buffer, selected []conv.Pair) {
	for _, p := range selected {
		fmt.Fprintf(buf,
			"<div id=\"figure\" style=\"float:left; width:550px; z-index:2000; background-color: #ffffff; \">\n"+
				"<h4 style=\"float:left; margin-left:70px\"> Branch Pair: %d..%d </h4>\n"+
				"<div id=\"BP_%dx%d-data-plot\" style=\"margin-left: 10px; float:left; width:540px; outline: 0 !important; border: 0 !important; \"></div>\n</div>\n",
			p.U, p.V, p.U, p.V)
	}
}
