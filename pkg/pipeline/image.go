package pipeline

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

type loadImageFromFile struct{}

func newLoadImageFromFile(_ cfg.StepConfig) (Transform, error) {
	return &loadImageFromFile{}, nil
}

func (t *loadImageFromFile) Apply(s Sample) error {
	filename, ok := s[KeyFilename].(string)
	if !ok || filename == "" {
		return errors.Wrap(ErrInputFormat, "load step requires a file path input")
	}
	img, err := imaging.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "open image %s", filename)
	}
	bounds := img.Bounds()
	shape := []int64{int64(bounds.Dy()), int64(bounds.Dx()), 3}
	s[KeyImage] = img
	s[KeyOriShape] = shape
	s[KeyImgShape] = shape
	return nil
}

type resize struct {
	// size is (height, width), matching the config convention.
	size [2]int
}

func newResize(step cfg.StepConfig) (Transform, error) {
	var opts struct {
		Size []int `koanf:"size"`
	}
	if err := step.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if len(opts.Size) != 2 || opts.Size[0] <= 0 || opts.Size[1] <= 0 {
		return nil, errors.Wrapf(cfg.ErrConfiguration, "Resize expects size: [height, width], got %v", opts.Size)
	}
	return &resize{size: [2]int{opts.Size[0], opts.Size[1]}}, nil
}

func (t *resize) Apply(s Sample) error {
	img, ok := s[KeyImage].(image.Image)
	if !ok {
		return errors.Wrap(ErrInputFormat, "Resize expects a decoded image")
	}
	resized := imaging.Resize(img, t.size[1], t.size[0], imaging.Linear)
	s[KeyImage] = resized
	s[KeyImgShape] = []int64{int64(t.size[0]), int64(t.size[1]), 3}
	return nil
}

type normalize struct {
	mean  [3]float32
	std   [3]float32
	toRGB bool
}

func newNormalize(step cfg.StepConfig) (Transform, error) {
	var opts struct {
		Mean  []float64 `koanf:"mean"`
		Std   []float64 `koanf:"std"`
		ToRGB bool      `koanf:"to_rgb"`
	}
	if err := step.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if len(opts.Mean) != 3 || len(opts.Std) != 3 {
		return nil, errors.Wrapf(cfg.ErrConfiguration, "Normalize expects 3-channel mean/std, got mean=%v std=%v", opts.Mean, opts.Std)
	}
	for _, v := range opts.Std {
		if v == 0 {
			return nil, errors.Wrap(cfg.ErrConfiguration, "Normalize std must be non-zero")
		}
	}
	n := &normalize{toRGB: opts.ToRGB}
	for i := 0; i < 3; i++ {
		n.mean[i] = float32(opts.Mean[i])
		n.std[i] = float32(opts.Std[i])
	}
	return n, nil
}

// Apply converts the image to a float32 HWC tensor, subtracting mean
// and dividing by std per channel. Decoded images are RGB; when to_rgb
// is false the channels are stored BGR to match models exported from
// BGR training pipelines.
func (t *normalize) Apply(s Sample) error {
	img, ok := s[KeyImage].(image.Image)
	if !ok {
		return errors.Wrap(ErrInputFormat, "Normalize expects a decoded image")
	}
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	h, w := bounds.Dy(), bounds.Dx()

	order := [3]int{0, 1, 2}
	if !t.toRGB {
		order = [3]int{2, 1, 0}
	}

	data := make([]float32, h*w*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pix := nrgba.Pix[y*nrgba.Stride+x*4:]
			for c := 0; c < 3; c++ {
				v := float32(pix[order[c]])
				data[(y*w+x)*3+c] = (v - t.mean[c]) / t.std[c]
			}
		}
	}

	out, err := tensor.New([]int64{int64(h), int64(w), 3}, data)
	if err != nil {
		return err
	}
	s[KeyImage] = out
	return nil
}

type imageToTensor struct{}

func newImageToTensor(_ cfg.StepConfig) (Transform, error) {
	return &imageToTensor{}, nil
}

// Apply formats the image field as a CHW float32 tensor. HWC tensors
// (the Normalize output) are transposed; CHW tensors pass through
// unchanged so in-memory tensor inputs keep their content; raw decoded
// images are converted without normalization.
func (t *imageToTensor) Apply(s Sample) error {
	switch img := s[KeyImage].(type) {
	case *tensor.Tensor:
		if isHWC(img.Shape) {
			s[KeyImage] = transposeHWC(img)
		}
		return nil
	case image.Image:
		nrgba := imaging.Clone(img)
		bounds := nrgba.Bounds()
		h, w := bounds.Dy(), bounds.Dx()
		data := make([]float32, h*w*3)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				pix := nrgba.Pix[y*nrgba.Stride+x*4:]
				for c := 0; c < 3; c++ {
					data[(y*w+x)*3+c] = float32(pix[c])
				}
			}
		}
		hwc, err := tensor.New([]int64{int64(h), int64(w), 3}, data)
		if err != nil {
			return err
		}
		s[KeyImage] = transposeHWC(hwc)
		return nil
	default:
		return errors.Wrap(ErrInputFormat, "ImageToTensor expects an image or tensor payload")
	}
}

func isHWC(shape []int64) bool {
	return len(shape) == 3 && shape[2] == 3 && shape[0] != 3
}

func transposeHWC(t *tensor.Tensor) *tensor.Tensor {
	h, w := t.Shape[0], t.Shape[1]
	data := make([]float32, len(t.Data))
	for y := int64(0); y < h; y++ {
		for x := int64(0); x < w; x++ {
			for c := int64(0); c < 3; c++ {
				data[c*h*w+y*w+x] = t.Data[(y*w+x)*3+c]
			}
		}
	}
	return &tensor.Tensor{Shape: []int64{3, h, w}, Data: data, Device: t.Device}
}
