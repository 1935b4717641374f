package sink

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dekoninglab/grandconv/conv"
	"github.com/dekoninglab/grandconv/tree"
)

const tree3 = "((Human:0.1,Chimp:0.2):0.05,Gorilla:0.3);"

func testResult(tst *testing.T, selected [][2]int, nSites int) (*tree.Tree, *conv.Result) {
	t, err := tree.ParseNewick(strings.NewReader(tree3))
	require.NoError(tst, err)
	pairs, err := conv.Pairs(t, selected)
	require.NoError(tst, err)
	res := conv.NewResult(pairs, nSites)
	for i := range pairs {
		res.PDivergent[i] = float64(i) * 0.5
		res.PConvergent[i] = float64(i) * 0.25
	}
	for i := range res.SiteMap {
		res.SiteMap[i] = float64(i%3) * 0.125
	}
	return t, res
}

func readArtifact(tst *testing.T, dir, name string) string {
	b, err := ioutil.ReadFile(filepath.Join(dir, "UI", "User", name))
	require.NoError(tst, err)
	return string(b)
}

func TestWriteData(tst *testing.T) {
	dir := tst.TempDir()
	t, res := testResult(tst, [][2]int{{0, 1}, {1, 2}}, 2)

	s := New(dir, "results.html")
	require.NoError(tst, s.Write(t, res, 0.75, 0.125, nil, nil))

	data := readArtifact(tst, dir, "resultsData.js")
	require.Contains(tst, data, "regressionSlope = 0.750000;")
	require.Contains(tst, data, "regressionIntercept = 0.125000;")
	require.Contains(tst, data, "numOfSelectedBranchPairs = 2;")
	require.Contains(tst, data, "numOfSites = 2;")
	require.Contains(tst, data, "xPoints = [ ")
	require.Contains(tst, data, "yPoints = [ ")
	require.Contains(tst, data, "xPostNumSub = [ ")
	require.Contains(tst, data, "ySiteClass = [ ")
	require.Contains(tst, data, "tree = {")

	// selected pairs in enumeration order
	require.Contains(tst, data, "BP_0x1 = [")
	require.Contains(tst, data, "BP_1x2 = [")
	require.Less(tst, strings.Index(data, "BP_0x1"), strings.Index(data, "BP_1x2"))
	require.Contains(tst, data, `siteSpecificBranchPairsIDs = [ "BP_0x1", "BP_1x2" ];`)
	require.Contains(tst, data, `"Branch Pair: 0..1"`)
}

func TestWriteDataLabels(tst *testing.T) {
	dir := tst.TempDir()
	t, res := testResult(tst, nil, 1)

	s := New(dir, "results.html")
	require.NoError(tst, s.Write(t, res, 1, 0, nil, nil))

	data := readArtifact(tst, dir, "resultsData.js")
	// pair (0, 1): both leaves hang off internal node 4
	require.Contains(tst, data, `"4..0 x 4..1"`)
}

func TestWriteEmptySelection(tst *testing.T) {
	dir := tst.TempDir()
	t, res := testResult(tst, nil, 1)

	s := New(dir, "results.html")
	require.NoError(tst, s.Write(t, res, 1, 0, nil, nil))

	data := readArtifact(tst, dir, "resultsData.js")
	require.Contains(tst, data, "numOfSelectedBranchPairs = 0;")
	require.Contains(tst, data, "siteSpecificBranchPairsIDs = [  ];")

	// the sheet page carries the explanatory placeholder
	sheet := readArtifact(tst, dir, "sheet-results.html")
	require.Contains(tst, sheet, "Branch Pairs must be provided")
	require.NotContains(tst, sheet, "BP_")
}

func TestWriteExplorerPages(tst *testing.T) {
	dir := tst.TempDir()
	t, res := testResult(tst, [][2]int{{0, 1}}, 1)

	s := New(dir, "results.html")
	require.NoError(tst, s.Write(t, res, 1, 0, nil, nil))

	for _, name := range []string{
		"results.html",
		"sheet-results.html",
		"siteSpecific-results.html",
		"rateVsDiversity-results.html",
		"rateVsProbConvergence-results.html",
	} {
		page := readArtifact(tst, dir, name)
		require.Contains(tst, page, `<script src="resultsData.js"></script>`)
	}

	sheet := readArtifact(tst, dir, "sheet-results.html")
	require.Contains(tst, sheet, "BP_0x1-sheet")

	site := readArtifact(tst, dir, "siteSpecific-results.html")
	require.Contains(tst, site, "BP_0x1-data-plot")
}

func TestWriteTreeJSON(tst *testing.T) {
	dir := tst.TempDir()
	t, res := testResult(tst, nil, 1)

	s := New(dir, "results.html")
	require.NoError(tst, s.Write(t, res, 1, 0, nil, nil))

	treeJSON := readArtifact(tst, dir, "tree.json")
	require.Contains(tst, treeJSON, `"name":"Root"`)
	require.Contains(tst, treeJSON, `"name":"Human"`)
}

func TestExpandTemplateNoMarkers(tst *testing.T) {
	src := []byte("<html>\n<body>plain</body>\n</html>\n")
	out := expandTemplate(src, "d.js", nil)
	require.Equal(tst, string(src), string(out))
}
