package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/524D/compareMS2/internal/distmatrix"
	"github.com/524D/compareMS2/internal/upgma"
)

var (
	upgmaTopology bool
	upgmaQuality  bool
)

var upgmaCmd = &cobra.Command{
	Use:   "upgma <matrix.meg>",
	Short: "Build a UPGMA tree from a MEGA distance matrix",
	Long: `Parse a distance matrix written by compareMS2_to_distance_matrices and
print the UPGMA tree in Newick format.

Examples:
  compms2 upgma comp_distance_matrix.meg
  compms2 upgma comp_distance_matrix.meg --topology --quality`,
	Args: cobra.ExactArgs(1),
	RunE: runUPGMA,
}

func init() {
	upgmaCmd.Flags().BoolVar(&upgmaTopology, "topology", false, "omit branch lengths")
	upgmaCmd.Flags().BoolVar(&upgmaQuality, "quality", false, "print the per-sample quality scores")
	rootCmd.AddCommand(upgmaCmd)
}

func runUPGMA(cmd *cobra.Command, args []string) error {
	m, err := distmatrix.ParseFile(args[0])
	if err != nil {
		return err
	}

	newick := upgma.Build(m.Table, m.Labels)
	if newick == "" {
		return fmt.Errorf("no tree: the matrix in %s is empty or malformed", args[0])
	}
	if upgmaTopology {
		newick = upgma.StripBranchLengths(newick)
	}
	fmt.Printf("%s;\n", newick)

	if upgmaQuality {
		qmin, qmax := m.Quality.Range()
		fmt.Printf("\nQuality: min %.4f, max %.4f, mean %.4f\n", qmin, qmax, m.Quality.Mean())
		for _, label := range m.Labels {
			if score, ok := m.Quality.Scores[label]; ok {
				fmt.Printf("  %-30s %.4f\n", label, score)
			}
		}
	}
	return nil
}
