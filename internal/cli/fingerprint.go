package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/524D/compareMS2/internal/cache"
	"github.com/524D/compareMS2/internal/compare"
)

var (
	fingerprintFlags optionFlags
	fingerprintArgs  bool
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <a.mgf> <b.mgf>",
	Short: "Print the cache key of a sample pair",
	Long: `Print the fingerprint that identifies the result of a pair under the given
options, the cache files it maps to and whether they exist. The pair order
does not matter.

Examples:
  compms2 fingerprint ./samples/a.mgf ./samples/b.mgf
  compms2 fingerprint a.mgf b.mgf --options settings.json --args`,
	Args: cobra.ExactArgs(2),
	RunE: runFingerprint,
}

func init() {
	fingerprintFlags.register(fingerprintCmd, false)
	fingerprintCmd.Flags().BoolVar(&fingerprintArgs, "args", false, "also print the compareMS2 command line")
	rootCmd.AddCommand(fingerprintCmd)
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	dir := filepath.Dir(args[0])
	if dir == "." && fingerprintFlags.file != "" {
		dir = ""
	}
	opts, err := fingerprintFlags.resolve(cmd, dir)
	if err != nil {
		return err
	}

	a, b := compare.Canonical(filepath.Base(args[0]), filepath.Base(args[1]))
	fp := compare.Fingerprint(a, b, opts)
	store := cache.ForSampleDir(opts.MgfDir)

	fmt.Println(fp)
	fmt.Printf("  Result: %s (%s)\n", store.ResultPath(fp), presence(store.Exists(store.ResultPath(fp))))
	fmt.Printf("  JSON:   %s (%s)\n", store.JSONPath(fp), presence(store.Exists(store.JSONPath(fp))))
	if fingerprintArgs {
		fmt.Printf("  Command: %s %s\n", cfg.CompareExe, strings.Join(opts.CommandArgs(a, b), " "))
	}
	return nil
}

func presence(ok bool) string {
	if ok {
		return "cached"
	}
	return "missing"
}
