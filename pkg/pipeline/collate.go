package pipeline

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

type collect struct {
	keys map[string]bool
}

func newCollect(step cfg.StepConfig) (Transform, error) {
	var opts struct {
		Keys []string `koanf:"keys"`
	}
	if err := step.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if len(opts.Keys) == 0 {
		return nil, errors.Wrap(cfg.ErrConfiguration, "Collect requires at least one key")
	}
	keys := make(map[string]bool, len(opts.Keys))
	for _, k := range opts.Keys {
		keys[k] = true
	}
	return &collect{keys: keys}, nil
}

// Apply keeps the declared keys as sample payloads and folds every
// other field into the metadata map.
func (t *collect) Apply(s Sample) error {
	meta, _ := s[KeyMeta].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}

	var moved []string
	for k := range s {
		if k == KeyMeta || t.keys[k] {
			continue
		}
		moved = append(moved, k)
	}
	sort.Strings(moved)
	for _, k := range moved {
		meta[k] = s[k]
		delete(s, k)
	}

	for k := range t.keys {
		if _, ok := s[k]; !ok {
			return errors.Wrapf(ErrInputFormat, "Collect key %q missing from sample", k)
		}
	}
	s[KeyMeta] = meta
	return nil
}

// Batch is a collated set of samples: named tensors with a shared
// leading batch dimension plus one metadata map per sample. Immutable
// once constructed apart from device retagging.
type Batch struct {
	Tensors map[string]*tensor.Tensor
	Meta    []map[string]any
}

// Size returns the batch size.
func (b *Batch) Size() int {
	return len(b.Meta)
}

// Tensor returns the named batch tensor.
func (b *Batch) Tensor(key string) (*tensor.Tensor, bool) {
	t, ok := b.Tensors[key]
	return t, ok
}

// ScatterTo retags every tensor field with the target device. Metadata
// fields are untouched and the default CPU device is a no-op.
func (b *Batch) ScatterTo(d tensor.Device) *Batch {
	if d.IsCPU() {
		return b
	}
	for _, t := range b.Tensors {
		t.To(d)
	}
	return b
}

// Collate combines samples into a batch, adding a leading batch
// dimension uniformly across tensor fields. All samples must carry the
// same tensor fields with identical shapes.
func Collate(samples []Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.Wrap(ErrInputFormat, "cannot collate an empty sample list")
	}

	batch := &Batch{
		Tensors: map[string]*tensor.Tensor{},
		Meta:    make([]map[string]any, 0, len(samples)),
	}

	for i, s := range samples {
		meta := map[string]any{}
		if m, ok := s[KeyMeta].(map[string]any); ok {
			for k, v := range m {
				meta[k] = v
			}
		}
		for k, v := range s {
			if k == KeyMeta {
				continue
			}
			t, ok := v.(*tensor.Tensor)
			if !ok {
				meta[k] = v
				continue
			}
			if i == 0 {
				batch.Tensors[k] = t.WithBatchDim()
				continue
			}
			acc, ok := batch.Tensors[k]
			if !ok {
				return nil, errors.Wrapf(ErrInputFormat, "sample %d introduces tensor field %q", i, k)
			}
			if !sameShape(acc.Shape[1:], t.Shape) {
				return nil, errors.Wrapf(ErrInputFormat, "sample %d tensor %q shape %v differs from %v", i, k, t.Shape, acc.Shape[1:])
			}
			acc.Shape[0]++
			acc.Data = append(acc.Data, t.Data...)
		}
		batch.Meta = append(batch.Meta, meta)
	}

	for k, t := range batch.Tensors {
		if t.Shape[0] != int64(len(batch.Meta)) {
			return nil, errors.Wrapf(ErrInputFormat, "tensor %q missing from some samples", k)
		}
	}

	return batch, nil
}

func sameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
