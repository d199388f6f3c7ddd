package lens

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/kiesman99/gravilens/pkg/raster"
)

// Params holds the lens shape parameters. The radii are percentages of the
// region's half-minor-dimension, so 100 means the lens band reaches the
// nearer edge of the region.
type Params struct {
	// InnerRadiusPercent is the inner lens radius in [0,100].
	InnerRadiusPercent float64

	// OuterRadiusPercent is the outer lens radius in [0,100]. It is not
	// required to be larger than the inner radius.
	OuterRadiusPercent float64

	// Inside selects what happens strictly inside the inner radius:
	// false paints the inner disk with zero bytes, true samples the point
	// diametrically reflected through the center.
	Inside bool
}

// Options contains all warp parameters beyond the source buffer.
type Options struct {
	Params Params

	// Region restricts the warp to a sub-rectangle of the source.
	// Nil means the full buffer.
	Region *raster.Rect

	// Workers is the number of goroutines scanning rows. Values below 2
	// select the sequential scan. The output is byte-identical either way.
	Workers int

	// Progress, when non-nil, is called after each completed region row
	// with the number of finished rows and the row total. It must not
	// mutate the buffers. Under a parallel scan it may be called from
	// multiple goroutines.
	Progress func(done, total int)
}

// InvalidInputError reports a precondition violation. No computation is
// performed and no partial buffer is returned when it occurs.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Message)
}

// Warper applies the gravitational lens warp to pixel buffers. It holds no
// state; a single instance may be shared across goroutines.
type Warper struct{}

// New creates a new warper instance.
func New() *Warper {
	return &Warper{}
}

// Warp computes the lens distortion over the region of interest and returns
// a new buffer of identical dimensions. Pixels outside the region are copied
// unchanged from the source.
//
// For each region pixel the offset from the region centroid is rescaled by
// an ease-out curve between the inner and outer radii, producing a
// magnification that fades to identity at the outer radius. Warped sampling
// coordinates wrap toroidally, so edge regions never sample out of bounds.
func (w *Warper) Warp(ctx context.Context, src *raster.Buffer, opts *Options) (*raster.Buffer, error) {
	if opts == nil {
		opts = &Options{}
	}

	roi, err := validate(src, opts)
	if err != nil {
		return nil, err
	}

	maxRadius := float64(min(roi.Dx(), roi.Dy())) / 2
	innerRadius := maxRadius * opts.Params.InnerRadiusPercent / 100
	outerRadius := maxRadius * opts.Params.OuterRadiusPercent / 100

	denom := outerRadius - innerRadius
	if denom == 0 {
		denom = 1 // coincident radii, avoid dividing by zero
	}

	cx := float64(roi.X1+roi.X2) / 2
	cy := float64(roi.Y1+roi.Y2) / 2

	dst := src.Clone()

	rows := roi.Dy()
	var done atomic.Int64

	scanRows := func(ctx context.Context, y1, y2 int) error {
		for y := y1; y < y2; y++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			warpRow(src, dst, y, roi, cx, cy, innerRadius, denom, opts.Params.Inside)

			if opts.Progress != nil {
				opts.Progress(int(done.Add(1)), rows)
			}
		}
		return nil
	}

	if opts.Workers < 2 {
		if err := scanRows(ctx, roi.Y1, roi.Y2); err != nil {
			return nil, err
		}
		return dst, nil
	}

	// Partition the row range into contiguous chunks. Each worker writes a
	// disjoint slice of destination rows, so no synchronization is needed
	// beyond the final barrier.
	workers := opts.Workers
	if workers > rows {
		workers = rows
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)

	chunk := (rows + workers - 1) / workers
	for i := 0; i < workers; i++ {
		y1 := roi.Y1 + i*chunk
		y2 := y1 + chunk
		if y2 > roi.Y2 {
			y2 = roi.Y2
		}

		wg.Add(1)
		go func(i, y1, y2 int) {
			defer wg.Done()
			errs[i] = scanRows(ctx, y1, y2)
		}(i, y1, y2)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return dst, nil
}

// warpRow resamples one destination row inside the region of interest.
func warpRow(src, dst *raster.Buffer, y int, roi raster.Rect, cx, cy, innerRadius, denom float64, inside bool) {
	depth := src.Depth
	fy := float64(y)

	for x := roi.X1; x < roi.X2; x++ {
		dx := float64(x) - cx
		dy := fy - cy
		r := math.Hypot(dx, dy)

		ratio := (r - innerRadius) / denom
		if ratio > 1 {
			ratio = 1
		}

		// Ease-out shaping inside the lens band. Negative ratios (inside
		// the inner radius) pass through unshaped so the offset sign flips.
		if ratio > 0 {
			ratio = 1 - (1-ratio)*(1-ratio)
			if ratio > 0 {
				ratio = math.Sqrt(ratio)
			} else {
				ratio = -math.Sqrt(-ratio)
			}
		}

		di := dst.PixOffset(x, y)

		if ratio < 0 && !inside {
			// Inner disk painted with zero bytes, whatever the channels
			// mean. For RGBA that includes alpha.
			for i := 0; i < depth; i++ {
				dst.Pix[di+i] = 0
			}
			continue
		}

		xw := wrapCoord(dx*ratio+cx, src.Width)
		yw := wrapCoord(dy*ratio+cy, src.Height)

		copy(dst.Pix[di:di+depth], src.At(xw, yw))
	}
}

// wrapCoord wraps a warped coordinate toroidally into [0, n) and rounds it
// to the nearest pixel. The remainder is made non-negative before rounding
// so half-integer coordinates tie-break upward regardless of sign; a value
// that rounds up to the edge wraps back to zero.
func wrapCoord(v float64, n int) int {
	m := math.Mod(v, float64(n))
	if m < 0 {
		m += float64(n)
	}
	i := int(math.Round(m))
	if i >= n {
		i -= n
	}
	return i
}

// validate checks the warp preconditions and resolves the effective region.
func validate(src *raster.Buffer, opts *Options) (raster.Rect, error) {
	if src == nil {
		return raster.Rect{}, &InvalidInputError{Field: "source", Message: "buffer is nil"}
	}
	if src.Width <= 0 || src.Height <= 0 {
		return raster.Rect{}, &InvalidInputError{
			Field:   "source",
			Message: fmt.Sprintf("non-positive dimensions %dx%d", src.Width, src.Height),
		}
	}
	if src.Depth < 1 {
		return raster.Rect{}, &InvalidInputError{
			Field:   "source",
			Message: fmt.Sprintf("channel count %d less than 1", src.Depth),
		}
	}
	if len(src.Pix) != src.Width*src.Height*src.Depth {
		return raster.Rect{}, &InvalidInputError{
			Field: "source",
			Message: fmt.Sprintf("buffer length %d does not match %dx%dx%d",
				len(src.Pix), src.Width, src.Height, src.Depth),
		}
	}

	roi := raster.Rect{X1: 0, Y1: 0, X2: src.Width, Y2: src.Height}
	if opts.Region != nil {
		roi = *opts.Region
		if !roi.Within(src.Width, src.Height) {
			return raster.Rect{}, &InvalidInputError{
				Field:   "region",
				Message: fmt.Sprintf("%s outside %dx%d buffer", roi, src.Width, src.Height),
			}
		}
	}

	return roi, nil
}
