package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
)

// Metrics supported by the classification dataset.
const (
	MetricAccuracy  = "accuracy"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricF1Score   = "f1_score"
	MetricSupport   = "support"
)

var classificationMetrics = map[string]bool{
	MetricAccuracy:  true,
	MetricPrecision: true,
	MetricRecall:    true,
	MetricF1Score:   true,
	MetricSupport:   true,
}

// ClassificationDataset is an annotation-file dataset: one
// "<relative path> <label>" record per line.
type ClassificationDataset struct {
	root   string
	paths  []string
	labels []int
}

func newClassificationDataset(dc cfg.DatasetConfig) (*ClassificationDataset, error) {
	if dc.AnnFile == "" {
		return nil, errors.Wrap(cfg.ErrConfiguration, "classification dataset requires ann_file")
	}
	lines, err := readAnnLines(joinRoot(dc.DataRoot, dc.AnnFile))
	if err != nil {
		return nil, err
	}

	ds := &ClassificationDataset{root: dc.DataRoot}
	for i, fields := range lines {
		if len(fields) != 2 {
			return nil, errors.Wrapf(cfg.ErrConfiguration, "annotation line %d: want \"path label\", got %q", i+1, fields)
		}
		label, err := parseLabel(fields[1])
		if err != nil {
			return nil, errors.Wrapf(cfg.ErrConfiguration, "annotation line %d: %v", i+1, err)
		}
		ds.paths = append(ds.paths, joinRoot(dc.DataRoot, fields[0]))
		ds.labels = append(ds.labels, label)
	}
	return ds, nil
}

func (d *ClassificationDataset) Len() int {
	return len(d.paths)
}

func (d *ClassificationDataset) Input(i int) (any, error) {
	if i < 0 || i >= len(d.paths) {
		return nil, errors.Errorf("sample index %d out of range [0, %d)", i, len(d.paths))
	}
	return d.paths[i], nil
}

// Label returns the ground-truth class of sample i.
func (d *ClassificationDataset) Label(i int) int {
	return d.labels[i]
}

// Evaluate computes the requested single-label metrics. Precision,
// recall and f1_score are macro-averaged over the classes present in
// the ground truth.
func (d *ClassificationDataset) Evaluate(results []Result, metrics []string, opts map[string]any) (map[string]float64, error) {
	if len(results) != len(d.labels) {
		return nil, errors.Errorf("got %d results for %d samples", len(results), len(d.labels))
	}
	for _, m := range metrics {
		if !classificationMetrics[m] {
			return nil, errors.Wrapf(ErrUnsupportedMetric, "%q (supported: accuracy, precision, recall, f1_score, support)", m)
		}
	}

	stats := newConfusionStats(results, d.labels)
	out := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		switch m {
		case MetricAccuracy:
			out[m] = stats.accuracy()
		case MetricPrecision:
			out[m] = stats.macroPrecision()
		case MetricRecall:
			out[m] = stats.macroRecall()
		case MetricF1Score:
			out[m] = stats.macroF1()
		case MetricSupport:
			out[m] = float64(len(d.labels))
		}
	}
	return out, nil
}

// FormatResults writes a submission file mapping each input path to its
// predicted label and score vector.
func (d *ClassificationDataset) FormatResults(results []Result, dir string) error {
	if len(results) != len(d.paths) {
		return errors.Errorf("got %d results for %d samples", len(results), len(d.paths))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	type record struct {
		Path   string    `json:"path"`
		Label  int       `json:"label"`
		Scores []float32 `json:"scores"`
	}
	records := make([]record, 0, len(results))
	for i, r := range results {
		records = append(records, record{Path: d.paths[i], Label: r.TopLabel(), Scores: r.Scores})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "predictions.json"), data, 0644)
}

type confusionStats struct {
	correct int
	total   int
	classes []int
	tp      map[int]float64
	fp      map[int]float64
	fn      map[int]float64
}

func newConfusionStats(results []Result, labels []int) *confusionStats {
	s := &confusionStats{
		tp: map[int]float64{},
		fp: map[int]float64{},
		fn: map[int]float64{},
	}
	seen := map[int]bool{}
	for i, r := range results {
		gt := labels[i]
		pred := r.TopLabel()
		s.total++
		if !seen[gt] {
			seen[gt] = true
			s.classes = append(s.classes, gt)
		}
		if pred == gt {
			s.correct++
			s.tp[gt]++
		} else {
			s.fp[pred]++
			s.fn[gt]++
		}
	}
	sort.Ints(s.classes)
	return s
}

func (s *confusionStats) accuracy() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.correct) / float64(s.total)
}

func (s *confusionStats) macroPrecision() float64 {
	return s.macro(func(c int) float64 {
		denom := s.tp[c] + s.fp[c]
		if denom == 0 {
			return 0
		}
		return s.tp[c] / denom
	})
}

func (s *confusionStats) macroRecall() float64 {
	return s.macro(func(c int) float64 {
		denom := s.tp[c] + s.fn[c]
		if denom == 0 {
			return 0
		}
		return s.tp[c] / denom
	})
}

func (s *confusionStats) macroF1() float64 {
	return s.macro(func(c int) float64 {
		p := s.tp[c] + s.fp[c]
		r := s.tp[c] + s.fn[c]
		if p == 0 || r == 0 {
			return 0
		}
		precision := s.tp[c] / p
		recall := s.tp[c] / r
		if precision+recall == 0 {
			return 0
		}
		return 2 * precision * recall / (precision + recall)
	})
}

func (s *confusionStats) macro(f func(c int) float64) float64 {
	if len(s.classes) == 0 {
		return 0
	}
	var sum float64
	for _, c := range s.classes {
		sum += f(c)
	}
	return sum / float64(len(s.classes))
}
