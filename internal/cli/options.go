package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/524D/compareMS2/internal/config"
	"github.com/524D/compareMS2/internal/models"
)

// optionFlags are the comparison options shared by the run commands.
// Flags override values loaded from --options.
type optionFlags struct {
	file     string
	cutoff   float64
	order    string
	basename string
	s2s      string
	topN     float64
	noise    float64
	newick   bool
	nexus    bool
	remote   bool
	detach   bool
}

func (f *optionFlags) register(cmd *cobra.Command, remote bool) {
	defaults := models.DefaultOptions()
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "options", "o", "", "options file (JSON or YAML, as saved by the desktop app)")
	flags.Float64Var(&f.cutoff, "cutoff", defaults.Cutoff, "spectral similarity cutoff")
	flags.StringVar(&f.order, "order", string(defaults.CompareOrder), "comparison order: smallest-largest, smallest, largest or random")
	flags.StringVar(&f.basename, "basename", defaults.OutBasename, "base name of the output files")
	flags.StringVar(&f.s2s, "s2s", "", "sample-to-species file")
	flags.Float64Var(&f.topN, "top-n", defaults.TopN, "compare only the N most intense spectra (-1 for all)")
	flags.Float64Var(&f.noise, "noise", defaults.Noise, "noise threshold")
	flags.BoolVar(&f.newick, "newick", defaults.OutNewick, "write the final tree as Newick")
	flags.BoolVar(&f.nexus, "nexus", defaults.OutNexus, "write the distance matrix as NEXUS")
	if remote {
		flags.BoolVar(&f.remote, "remote", false, "run on the compms2-server")
		flags.BoolVarP(&f.detach, "detach", "d", false, "with --remote, return after starting the session")
	}
}

// resolve builds the options for a run in sampleDir. An empty sampleDir keeps
// the directory of the options file.
func (f *optionFlags) resolve(cmd *cobra.Command, sampleDir string) (models.Options, error) {
	opts := models.DefaultOptions()
	if f.file != "" {
		loaded, err := config.LoadOptions(f.file)
		if err != nil {
			return opts, err
		}
		opts = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("cutoff") {
		opts.Cutoff = f.cutoff
	}
	if flags.Changed("order") {
		opts.CompareOrder = models.CompareOrder(f.order)
	}
	if flags.Changed("basename") {
		opts.OutBasename = f.basename
	}
	if flags.Changed("s2s") {
		opts.S2SFile = f.s2s
	}
	if flags.Changed("top-n") {
		opts.TopN = f.topN
	}
	if flags.Changed("noise") {
		opts.Noise = f.noise
	}
	if flags.Changed("newick") {
		opts.OutNewick = f.newick
	}
	if flags.Changed("nexus") {
		opts.OutNexus = f.nexus
	}

	if sampleDir != "" {
		opts.MgfDir = sampleDir
	}
	if opts.MgfDir == "" {
		return opts, fmt.Errorf("no sample directory given")
	}
	// The server resolves paths in its own working directory.
	abs, err := filepath.Abs(opts.MgfDir)
	if err != nil {
		return opts, fmt.Errorf("resolve sample directory: %w", err)
	}
	opts.MgfDir = abs
	if opts.S2SFile != "" {
		if opts.S2SFile, err = filepath.Abs(opts.S2SFile); err != nil {
			return opts, fmt.Errorf("resolve sample-to-species file: %w", err)
		}
	}
	return opts, nil
}
