// Package dataset provides the test-split datasets the adapter
// evaluates deployed models against. Only lightweight file-list
// datasets live here; full benchmark toolkits remain external.
package dataset

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
)

// Dataset type names accepted in model configs.
const (
	TypeClassification = "classification"
	TypeVoxelDetection = "voxel_detection"
)

// ErrUnsupportedMetric is returned when a requested metric name is not
// implemented by the dataset.
var ErrUnsupportedMetric = errors.New("unsupported evaluation metric")

// Result is one per-sample prediction: class scores for classification,
// box parameters plus scores and labels for 3D detection.
type Result struct {
	Scores []float32   `json:"scores,omitempty" yaml:"scores,omitempty"`
	Boxes  [][]float32 `json:"boxes,omitempty" yaml:"boxes,omitempty"`
	Labels []int64     `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// TopLabel returns the argmax over Scores, or -1 without scores.
func (r Result) TopLabel() int {
	if len(r.Scores) == 0 {
		return -1
	}
	best := 0
	for i, s := range r.Scores {
		if s > r.Scores[best] {
			best = i
		}
	}
	return best
}

// Dataset is the adapter's view of a test split: inputs in a stable
// order plus the scoring and submission-formatting routines.
type Dataset interface {
	Len() int
	// Input returns the raw input for sample i, a file path for the
	// datasets implemented here.
	Input(i int) (any, error)
	// Evaluate scores accumulated results. Unsupported metric names
	// fail with ErrUnsupportedMetric.
	Evaluate(results []Result, metrics []string, opts map[string]any) (map[string]float64, error)
	// FormatResults writes results in the dataset's submission format.
	FormatResults(results []Result, dir string) error
}

// Build constructs the dataset declared by the model config's test
// split.
func Build(dc cfg.DatasetConfig) (Dataset, error) {
	switch dc.Type {
	case TypeClassification:
		return newClassificationDataset(dc)
	case TypeVoxelDetection:
		return newVoxelDetectionDataset(dc)
	default:
		return nil, errors.Wrapf(cfg.ErrConfiguration, "unknown dataset type %q", dc.Type)
	}
}

// readAnnLines loads the annotation file, one whitespace-separated
// record per line, skipping blanks and '#' comments.
func readAnnLines(annFile string) ([][]string, error) {
	f, err := os.Open(annFile)
	if err != nil {
		return nil, errors.Wrapf(err, "open annotation file %s", annFile)
	}
	defer f.Close()

	var lines [][]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, strings.Fields(line))
	}
	return lines, scanner.Err()
}

func joinRoot(root, rel string) string {
	if root == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(root, rel)
}

func parseLabel(s string) (int, error) {
	label, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse label %q", s)
	}
	return label, nil
}
