// Package models defines the data structures shared by the compareMS2 engine.
package models

import (
	"path/filepath"
	"strings"
)

// CompareOrder selects the order in which samples enter the distance matrix.
type CompareOrder string

const (
	OrderSmallestLargest CompareOrder = "smallest-largest"
	OrderSmallest        CompareOrder = "smallest"
	OrderLargest         CompareOrder = "largest"
	OrderRandom          CompareOrder = "random"
)

// SampleExt is the extension of sample files picked up from a sample directory.
const SampleExt = ".mgf"

// Options holds the comparison parameters passed to compareMS2 together with
// the session-level settings of a tree or species run. Field names follow the
// option files written by the desktop application.
type Options struct {
	MgfDir      string `json:"mgfDir" yaml:"mgfDir"`
	MzFile1     string `json:"mzFile1,omitempty" yaml:"mzFile1,omitempty"`
	MzFile2     string `json:"mzFile2,omitempty" yaml:"mzFile2,omitempty"`
	S2SFile     string `json:"s2sFile,omitempty" yaml:"s2sFile,omitempty"`
	OutBasename string `json:"outBasename" yaml:"outBasename"`

	MaxPrecursorDifference  float64 `json:"maxPrecursorDifference" yaml:"maxPrecursorDifference"`
	MinBasepeakIntensity    float64 `json:"minBasepeakIntensity" yaml:"minBasepeakIntensity"`
	MinTotalIonCurrent      float64 `json:"minTotalIonCurrent" yaml:"minTotalIonCurrent"`
	MaxRTDifference         float64 `json:"maxRTDifference" yaml:"maxRTDifference"`
	StartRT                 float64 `json:"startRT" yaml:"startRT"`
	EndRT                   float64 `json:"endRT" yaml:"endRT"`
	MaxScanNumberDifference float64 `json:"maxScanNumberDifference" yaml:"maxScanNumberDifference"`
	StartScan               float64 `json:"startScan" yaml:"startScan"`
	EndScan                 float64 `json:"endScan" yaml:"endScan"`
	Cutoff                  float64 `json:"cutoff" yaml:"cutoff"`
	SpecMetric              float64 `json:"specMetric" yaml:"specMetric"`
	Scaling                 float64 `json:"scaling" yaml:"scaling"`
	Noise                   float64 `json:"noise" yaml:"noise"`
	Metric                  float64 `json:"metric" yaml:"metric"`
	QC                      float64 `json:"qc" yaml:"qc"`
	TopN                    float64 `json:"topN" yaml:"topN"`
	ExperimentalFeatures    string  `json:"experimentalFeatures,omitempty" yaml:"experimentalFeatures,omitempty"`

	OutNewick    bool         `json:"outNewick" yaml:"outNewick"`
	OutNexus     bool         `json:"outNexus" yaml:"outNexus"`
	OutMega      bool         `json:"outMega" yaml:"outMega"`
	CompareOrder CompareOrder `json:"compareOrder" yaml:"compareOrder"`
}

// DefaultOptions returns the defaults of the desktop application.
// MgfDir and S2SFile are left empty.
func DefaultOptions() Options {
	return Options{
		OutBasename:             "comp",
		MaxPrecursorDifference:  2.05,
		MinBasepeakIntensity:    10000,
		MinTotalIonCurrent:      0,
		MaxRTDifference:         60,
		StartRT:                 0,
		EndRT:                   100000,
		MaxScanNumberDifference: 10000,
		StartScan:               1,
		EndScan:                 1000000,
		Cutoff:                  0.8,
		SpecMetric:              0,
		Scaling:                 1.0,
		Noise:                   10,
		Metric:                  2,
		QC:                      0,
		TopN:                    -1,
		OutMega:                 true,
		CompareOrder:            OrderSmallestLargest,
	}
}

// ParamArgs returns the compareMS2 argument vector for samples a and b, without
// output flags. Numbers are float64 and composite values are strings, so the
// vector can be fingerprinted with its JSON types intact. The desktop
// application passes the retention time window as entered, so -r is a string.
func (o Options) ParamArgs(a, b string) []any {
	args := []any{
		"-A", a,
		"-B", b,
		"-p", o.MaxPrecursorDifference,
		"-m", pair(o.MinBasepeakIntensity, o.MinTotalIonCurrent),
		"-w", o.MaxScanNumberDifference,
		"-W", pair(o.StartScan, o.EndScan),
		"-r", FormatNumber(o.MaxRTDifference),
		"-R", pair(o.StartRT, o.EndRT),
		"-c", o.Cutoff,
		"-f", o.SpecMetric,
		"-s", o.Scaling,
		"-n", o.Noise,
		"-q", o.QC,
		"-d", o.Metric,
		"-N", o.TopN,
	}
	if o.ExperimentalFeatures != "" {
		args = append(args, "-x", o.ExperimentalFeatures)
	}
	return args
}

// CommandArgs returns ParamArgs rendered as command-line strings.
func (o Options) CommandArgs(a, b string) []string {
	return ArgStrings(o.ParamArgs(a, b))
}

// ArgStrings renders an argument vector for exec.
func ArgStrings(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case float64:
			out[i] = FormatNumber(v)
		case string:
			out[i] = v
		}
	}
	return out
}

func pair(a, b float64) string {
	return FormatNumber(a) + "," + FormatNumber(b)
}

// IsSampleFile reports whether name has the sample file extension.
func IsSampleFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), SampleExt)
}
