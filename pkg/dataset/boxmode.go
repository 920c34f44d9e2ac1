package dataset

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
)

// BoxMode is the coordinate convention a 3D detection model uses to
// interpret bounding-box parameters.
type BoxMode int

const (
	BoxModeLiDAR BoxMode = iota
	BoxModeCamera
	BoxModeDepth
)

func (m BoxMode) String() string {
	switch m {
	case BoxModeLiDAR:
		return "lidar"
	case BoxModeCamera:
		return "camera"
	case BoxModeDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// ParseBoxMode resolves the box_type_3d config string to a BoxMode.
func ParseBoxMode(s string) (BoxMode, error) {
	switch strings.ToLower(s) {
	case "lidar":
		return BoxModeLiDAR, nil
	case "camera":
		return BoxModeCamera, nil
	case "depth":
		return BoxModeDepth, nil
	default:
		return 0, errors.Wrapf(cfg.ErrConfiguration, "unknown box type %q", s)
	}
}
