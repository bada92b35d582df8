package pipeline

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var pathReplacer = strings.NewReplacer(" ", "_", "/", "_", "\\", "_")

// sanitize makes a prompt safe for use as a path element.
func sanitize(s string) string {
	return pathReplacer.Replace(norm.NFC.String(s))
}

func joinPrompts(ps []string) string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = sanitize(p)
	}
	return strings.Join(out, "__")
}

// formatScale prints a float like Python's str(): integral values keep a
// trailing ".0".
func formatScale(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e16 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinScales(vs []float64) string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = formatScale(v)
	}
	return strings.Join(out, "-")
}

func joinInts(vs []int) string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = strconv.Itoa(v)
	}
	return strings.Join(out, "-")
}

// inputStem is the file name up to its first dot.
func inputStem(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

// OutputDir returns
// <results>/<model>/<input stem>/src_<prompts>/dec_<prompts>__neg__<prompts>.
func OutputDir(results, modelBase, inputPath string, src, tar, neg []string) string {
	return filepath.Join(
		results,
		sanitize(modelBase),
		inputStem(inputPath),
		"src_"+joinPrompts(src),
		"dec_"+joinPrompts(tar)+"__neg__"+joinPrompts(neg),
	)
}

// StemOptions describes what an artifact name encodes.
type StemOptions struct {
	SourceScales []float64
	TargetScales []float64
	Skips        []int
	// FullDDIM selects the "<T>timesteps" form used for unskipped DDIM runs.
	FullDDIM bool
	Steps    int
	Unix     int64
}

// ArtifactStem returns the base name shared by an edit's WAV and PNG.
func ArtifactStem(o StemOptions) string {
	prefix := fmt.Sprintf("cfg_e_%s_cfg_d_%s_", joinScales(o.SourceScales), joinScales(o.TargetScales))
	if o.FullDDIM {
		return fmt.Sprintf("%s%dtimesteps_%d", prefix, o.Steps, o.Unix)
	}
	return fmt.Sprintf("%sskip_%s_%d", prefix, joinInts(o.Skips), o.Unix)
}

// variantStem appends _v<k> when a run produces more than one output.
func variantStem(stem string, k, n int) string {
	if n <= 1 {
		return stem
	}
	return fmt.Sprintf("%s_v%d", stem, k+1)
}
