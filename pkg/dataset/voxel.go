package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
)

// VoxelDetectionDataset lists point-cloud files, one path per
// annotation line. Metric computation for 3D detection is delegated to
// external benchmark toolkits; this dataset only formats submissions.
type VoxelDetectionDataset struct {
	paths   []string
	boxMode BoxMode
}

func newVoxelDetectionDataset(dc cfg.DatasetConfig) (*VoxelDetectionDataset, error) {
	if dc.AnnFile == "" {
		return nil, errors.Wrap(cfg.ErrConfiguration, "voxel detection dataset requires ann_file")
	}
	boxType := dc.BoxType3D
	if boxType == "" {
		boxType = "lidar"
	}
	boxMode, err := ParseBoxMode(boxType)
	if err != nil {
		return nil, err
	}

	lines, err := readAnnLines(joinRoot(dc.DataRoot, dc.AnnFile))
	if err != nil {
		return nil, err
	}

	ds := &VoxelDetectionDataset{boxMode: boxMode}
	for i, fields := range lines {
		if len(fields) != 1 {
			return nil, errors.Wrapf(cfg.ErrConfiguration, "annotation line %d: want a single path, got %q", i+1, fields)
		}
		ds.paths = append(ds.paths, joinRoot(dc.DataRoot, fields[0]))
	}
	return ds, nil
}

func (d *VoxelDetectionDataset) Len() int {
	return len(d.paths)
}

func (d *VoxelDetectionDataset) Input(i int) (any, error) {
	if i < 0 || i >= len(d.paths) {
		return nil, errors.Errorf("sample index %d out of range [0, %d)", i, len(d.paths))
	}
	return d.paths[i], nil
}

// BoxMode returns the coordinate convention of the dataset's boxes.
func (d *VoxelDetectionDataset) BoxMode() BoxMode {
	return d.boxMode
}

// Evaluate always fails: 3D detection metrics (mAP over box overlaps)
// require the external benchmark toolkit the adapter delegates to.
func (d *VoxelDetectionDataset) Evaluate(_ []Result, metrics []string, _ map[string]any) (map[string]float64, error) {
	return nil, errors.Wrapf(ErrUnsupportedMetric, "%v (3D detection scoring is delegated to the benchmark toolkit; use --format-only and submit)", metrics)
}

// FormatResults writes one submission record per point-cloud file with
// the predicted boxes in the dataset's box mode.
func (d *VoxelDetectionDataset) FormatResults(results []Result, dir string) error {
	if len(results) != len(d.paths) {
		return errors.Errorf("got %d results for %d samples", len(results), len(d.paths))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	type record struct {
		Path    string      `json:"path"`
		BoxMode string      `json:"box_mode"`
		Boxes   [][]float32 `json:"boxes"`
		Scores  []float32   `json:"scores"`
		Labels  []int64     `json:"labels"`
	}
	records := make([]record, 0, len(results))
	for i, r := range results {
		records = append(records, record{
			Path:    d.paths[i],
			BoxMode: d.boxMode.String(),
			Boxes:   r.Boxes,
			Scores:  r.Scores,
			Labels:  r.Labels,
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "submission.json"), data, 0644)
}
