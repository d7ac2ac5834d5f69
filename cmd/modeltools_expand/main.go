// modeltools_expand converts the 1D layers of a saved model hierarchy to their 2D
// counterparts and writes the expanded hierarchy back out.
//
// Usage:
//
//	modeltools_expand [flags] <model_file>
//
// By default the expanded model is written next to the input with an ".expanded"
// suffix; use -output to choose the destination and -dry_run to only report what
// would change.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/modeltools/ml/expand"
	"github.com/gomlx/modeltools/ml/layers"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagOutput = flag.String("output", "", "File to write the expanded model to. "+
		"Defaults to the input file with an \".expanded\" suffix.")
	flagSummary = flag.Bool("summary", false, "Display a table of the model's modules, before and after expansion.")
	flagDryRun  = flag.Bool("dry_run", false, "Expand and report, but don't write the output file.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing model file to expand. See 'modeltools_expand -help'.")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'modeltools_expand -help'.")
		os.Exit(1)
	}
	run(args[0])
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Left)
			} else {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

func run(modelPath string) {
	root := must.M1(layers.Load(modelPath))
	if *flagSummary {
		printSummary("Model", modelPath, root)
	}

	swapped := must.M1(expand.Auto(root, expand.DefaultRules()))
	fmt.Printf("Expanded %s module(s) to their 2D counterparts.\n", humanize.Comma(int64(swapped)))

	if *flagSummary {
		printSummary("Expanded model", modelPath, root)
	}
	if *flagDryRun {
		return
	}

	outputPath := *flagOutput
	if outputPath == "" {
		outputPath = modelPath + ".expanded"
	}
	must.M(layers.Save(root, outputPath))
	fmt.Printf("Wrote expanded model to %q.\n", outputPath)
}

func printSummary(title, modelPath string, root layers.Module) {
	fmt.Println(titleStyle.Render(title + ": " + modelPath))
	table := newPlainTable()
	table.Row("Path", "Kind", "Parameters", "Bytes")
	layers.Enumerate(root, func(path string, m layers.Module) {
		if path == "" {
			path = "(root)"
		}
		var size int64
		var memory uintptr
		if params, ok := m.(layers.HasParameters); ok {
			for _, t := range params.Parameters() {
				if t != nil {
					size += int64(t.Size())
					memory += t.Shape().Memory()
				}
			}
		}
		table.Row(path, m.Kind().String(),
			humanize.Comma(size), humanize.Bytes(uint64(memory)))
	})
	fmt.Println(table.Render())

	count, memory := layers.NumParameters(root)
	fmt.Printf("Total: %s parameters, %s.\n",
		humanize.Comma(int64(count)), humanize.Bytes(uint64(memory)))
}
