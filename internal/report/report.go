// Package report renders fit results for the terminal.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/cwbudde/morsefit/internal/fit"
	"github.com/cwbudde/morsefit/internal/params"
	"github.com/cwbudde/morsefit/internal/store"
	"github.com/cwbudde/morsefit/internal/structure"
)

var (
	headingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// Heading renders a section title
func Heading(title string) string {
	return headingStyle.Render(title)
}

// Status renders the final state of a run
func Status(res *fit.Result) string {
	if res.State == fit.Converged {
		return goodStyle.Render("converged") + dimStyle.Render(" ("+res.Message+")")
	}
	return warnStyle.Render("not converged") + dimStyle.Render(" ("+res.Message+")")
}

// TrunkLine summarizes one trunk
func TrunkLine(r fit.TrunkReport) string {
	return fmt.Sprintf("trunk %d (%d iterations): residue norm %.6e", r.Trunk, r.Iterations, r.ResidueNorm)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// ParameterTable prints De, a and r0 of every entry of set taken from x
func ParameterTable(w io.Writer, set *params.Set, x []float64) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "PAIR\tDE\tA\tR0")
	for i, e := range set.Entries {
		p := set.Params(x, i)
		fmt.Fprintf(tw, "%s\t%.10g\t%.10g\t%.10g\n", e.Pair, p.De, p.A, p.R0)
	}
	return tw.Flush()
}

// ComparisonTable prints the reference and fitted energy of every
// configuration
func ComparisonTable(w io.Writer, confs []*structure.Configuration, energies []float64) error {
	if len(confs) != len(energies) {
		return fmt.Errorf("report: %d configurations but %d energies", len(confs), len(energies))
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "FILE\tTAG\tAB-INITIO\tMORSE\tDIFF")
	for i, c := range confs {
		fmt.Fprintf(tw, "%s\t%s\t%.10g\t%.10g\t%.3e\n", c.FileName, c.Tag, c.AbInitio, energies[i], energies[i]-c.AbInitio)
	}
	return tw.Flush()
}

// Summary prints the outcome of a run
func Summary(w io.Writer, res *fit.Result) {
	fmt.Fprintf(w, "status:       %s\n", Status(res))
	fmt.Fprintf(w, "trunks:       %d\n", res.Trunks)
	fmt.Fprintf(w, "evaluations:  %d\n", res.Evaluations)
	fmt.Fprintf(w, "initial norm: %.6e\n", res.InitialNorm)
	fmt.Fprintf(w, "final norm:   %.6e\n", res.ResidueNorm)
}

// RunsTable lists stored runs
func RunsTable(w io.Writer, runs []store.RunInfo) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSTATE\tMETHOD\tTRUNKS\tNORM\tPAIRS\tCONFS\tTIME")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.3e\t%d\t%d\t%s\n",
			r.RunID,
			r.State,
			r.Method,
			r.Trunk,
			r.ResidueNorm,
			r.Pairs,
			r.Configurations,
			r.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}
	return tw.Flush()
}

// minLogNorm stands in for log10(0)
const minLogNorm = -16

// Plot draws log10 of the residue norm per trunk. It returns "" for fewer
// than two points.
func Plot(history []float64) string {
	if len(history) < 2 {
		return ""
	}
	data := make([]float64, len(history))
	for i, v := range history {
		if v > 0 {
			data[i] = math.Max(math.Log10(v), minLogNorm)
		} else {
			data[i] = minLogNorm
		}
	}
	return asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(60),
		asciigraph.Caption("log10 residue norm per trunk"),
	)
}
