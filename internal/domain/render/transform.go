package render

import (
	"fmt"
	"math"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/types"
)

const (
	AspectOriginal  = "original"
	AspectVertical  = "9:16"
	AspectLandscape = "16:9"
	AspectSquare    = "1:1"

	ratioTolerance = 0.01
)

type canvas struct{ w, h int }

var canvases = map[string]canvas{
	AspectVertical:  {1080, 1920},
	AspectLandscape: {1920, 1080},
	AspectSquare:    {1080, 1080},
}

// SupportedAspects lists the accepted aspect labels, default first.
var SupportedAspects = []string{AspectVertical, AspectLandscape, AspectSquare, AspectOriginal}

func SupportedAspect(label string) bool {
	if label == AspectOriginal {
		return true
	}
	_, ok := canvases[label]
	return ok
}

type Rect struct {
	W, H, X, Y int
}

// Transform is the crop-then-scale applied to one source for one aspect label.
type Transform struct {
	Aspect string
	Crop   *Rect
	ScaleW int
	ScaleH int
}

// Filter renders the transform as an ffmpeg -vf chain.
func (t Transform) Filter() string {
	scale := fmt.Sprintf("scale=%d:%d", t.ScaleW, t.ScaleH)
	if t.Crop == nil {
		return scale
	}
	return fmt.Sprintf("crop=%d:%d:%d:%d,%s", t.Crop.W, t.Crop.H, t.Crop.X, t.Crop.Y, scale)
}

// ComputeTransform center-crops the source to the target ratio and scales it
// to the label's canvas. "original" keeps the frame and only evens out its
// dimensions.
func ComputeTransform(info types.MediaInfo, label string) (Transform, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return Transform{}, errs.Errorf(errs.VideoProcessing, "invalid source dimensions %dx%d", info.Width, info.Height)
	}
	if label == AspectOriginal {
		return Transform{
			Aspect: label,
			ScaleW: info.Width / 2 * 2,
			ScaleH: info.Height / 2 * 2,
		}, nil
	}
	c, ok := canvases[label]
	if !ok {
		return Transform{}, errs.Errorf(errs.VideoProcessing, "unsupported aspect ratio %q", label)
	}

	t := Transform{Aspect: label, ScaleW: c.w, ScaleH: c.h}
	current := float64(info.Width) / float64(info.Height)
	target := float64(c.w) / float64(c.h)

	switch {
	case math.Abs(current-target) < ratioTolerance:
	case current > target:
		w := int(math.Floor(float64(info.Height) * target))
		t.Crop = &Rect{W: w, H: info.Height, X: (info.Width - w) / 2, Y: 0}
	default:
		h := int(math.Floor(float64(info.Width) / target))
		t.Crop = &Rect{W: info.Width, H: h, X: 0, Y: (info.Height - h) / 2}
	}
	return t, nil
}

// ValidateDuration rejects windows shorter than minSec or longer than maxSec.
func ValidateDuration(start, end, minSec, maxSec float64) error {
	d := end - start
	if d < minSec || d > maxSec {
		return errs.Errorf(errs.VideoProcessing, "clip duration %.2fs outside [%.0fs, %.0fs]", d, minSec, maxSec)
	}
	return nil
}
