package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Device identifies where tensor data is expected to live. The adapter
// itself only tags tensors with a device; actual placement is the
// backend runtime's job.
type Device string

const DeviceCPU Device = "cpu"

// IsCPU reports whether d is the default CPU device. An empty device
// string counts as CPU.
func (d Device) IsCPU() bool {
	return d == "" || d == DeviceCPU
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape  []int64
	Data   []float32
	Device Device
}

// New creates a tensor after checking that the data length matches the
// shape.
func New(shape []int64, data []float32) (*Tensor, error) {
	if n := NumElements(shape); n != int64(len(data)) {
		return nil, errors.Errorf("shape %v expects %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: shape, Data: data, Device: DeviceCPU}, nil
}

// NumElements returns the product of the shape dimensions.
func NumElements(shape []int64) int64 {
	var prod int64 = 1
	for _, s := range shape {
		prod *= s
	}
	return prod
}

// To retags the tensor with the target device. Moving to the device the
// tensor is already on is a no-op.
func (t *Tensor) To(d Device) *Tensor {
	if d.IsCPU() {
		d = DeviceCPU
	}
	t.Device = d
	return t
}

// WithBatchDim returns a view of t with a leading batch dimension of 1.
func (t *Tensor) WithBatchDim() *Tensor {
	shape := make([]int64, 0, len(t.Shape)+1)
	shape = append(shape, 1)
	shape = append(shape, t.Shape...)
	return &Tensor{Shape: shape, Data: t.Data, Device: t.Device}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v@%s", t.Shape, t.Device)
}

// Reshape2D slices a flat array into a 2D array with the given shape.
func Reshape2D(array []float32, shape []int64) ([][]float32, error) {
	if len(array) == 0 {
		return [][]float32{}, nil
	}

	if len(shape) != 2 {
		return nil, errors.Errorf("expected a 2D shape, got %vD shape %v", len(shape), shape)
	}
	if NumElements(shape) != int64(len(array)) {
		return nil, errors.Errorf("cannot reshape array of length %v into shape %v", len(array), shape)
	}

	res := make([][]float32, shape[0])
	for i := int64(0); i < shape[0]; i++ {
		res[i] = array[i*shape[1] : (i+1)*shape[1]]
	}

	return res, nil
}

// Reshape3D slices a flat array into a 3D array with the given shape.
func Reshape3D(array []float32, shape []int64) ([][][]float32, error) {
	if len(array) == 0 {
		return [][][]float32{}, nil
	}

	if len(shape) != 3 {
		return nil, errors.Errorf("expected a 3D shape, got %vD shape %v", len(shape), shape)
	}
	if NumElements(shape) != int64(len(array)) {
		return nil, errors.Errorf("cannot reshape array of length %v into shape %v", len(array), shape)
	}

	res := make([][][]float32, shape[0])
	for i := int64(0); i < shape[0]; i++ {
		res[i] = make([][]float32, shape[1])
		for j := int64(0); j < shape[1]; j++ {
			start := i*shape[1]*shape[2] + j*shape[2]
			end := start + shape[2]
			res[i][j] = array[start:end]
		}
	}

	return res, nil
}
