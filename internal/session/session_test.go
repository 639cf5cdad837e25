package session

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/homography"
	"github.com/MeKo-Tech/kpalign/internal/resample"
	"github.com/MeKo-Tech/kpalign/internal/view"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

func flat(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.NRGBA{R: v, G: v, B: v, A: 255}}, image.Point{}, draw.Src)
	return img
}

func newSession(t *testing.T) *Session {
	t.Helper()
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.DiscardHandler)
	opts.Interpolation = resample.Nearest
	s := New(opts)
	for _, sd := range []Side{Left, Right} {
		require.NoError(t, s.LoadImage(sd, flat(200, 100, 90)))
		require.NoError(t, s.SetPanelSize(sd, Navigation, 100, 50))
		require.NoError(t, s.SetPanelSize(sd, Detail, 200, 100))
	}
	return s
}

// addPairs confirms pairs whose right point is the left point shifted by d.
func addPairs(t *testing.T, s *Session, d r2.Point, left ...r2.Point) {
	t.Helper()
	for _, p := range left {
		_, err := s.PrimaryRaw(Left, p)
		require.NoError(t, err)
		out, err := s.PrimaryRaw(Right, p.Add(d))
		require.NoError(t, err)
		require.Equal(t, PairConfirmed, out.Kind)
	}
}

func TestPairingLeftThenRight(t *testing.T) {
	s := newSession(t)
	assert.Equal(t, Idle, s.State())

	// Detail view: zoom 400 around (100, 50); panel (104, 54) is raw (101, 51).
	out, err := s.Click(Left, Detail, Primary, r2.Point{X: 104, Y: 54})
	require.NoError(t, err)
	assert.Equal(t, PendingSet, out.Kind)
	assert.InDelta(t, 101, out.Raw.X, 1e-9)
	assert.InDelta(t, 51, out.Raw.Y, 1e-9)
	assert.Equal(t, AwaitingRight, s.State())

	left, _ := s.View(Left, Detail)
	assert.Len(t, left.Markers(view.Pending), 1)

	out, err = s.Click(Right, Detail, Primary, r2.Point{X: 100, Y: 50})
	require.NoError(t, err)
	assert.Equal(t, PairConfirmed, out.Kind)
	assert.Equal(t, Idle, s.State())

	pairs := s.Pairs()
	require.Len(t, pairs, 1)
	assert.InDelta(t, 101, pairs[0].Left.X, 1e-9)
	assert.InDelta(t, 51, pairs[0].Left.Y, 1e-9)
	assert.InDelta(t, 100, pairs[0].Right.X, 1e-9)
	assert.InDelta(t, 50, pairs[0].Right.Y, 1e-9)

	for _, sd := range []Side{Left, Right} {
		for _, p := range []Panel{Navigation, Detail} {
			v, _ := s.View(sd, p)
			assert.Len(t, v.Markers(view.Confirmed), 1, "%s %s confirmed", sd, p)
			assert.Empty(t, v.Markers(view.Pending), "%s %s pending", sd, p)
		}
	}

	s.ClearLast()
	assert.Empty(t, s.Pairs())
	assert.Equal(t, Idle, s.State())
	left, _ = s.View(Left, Navigation)
	assert.Empty(t, left.Markers(view.Confirmed))
}

func TestPairingRightThenLeft(t *testing.T) {
	s := newSession(t)
	_, err := s.PrimaryRaw(Right, r2.Point{X: 5, Y: 6})
	require.NoError(t, err)
	assert.Equal(t, AwaitingLeft, s.State())

	out, err := s.PrimaryRaw(Left, r2.Point{X: 1, Y: 2})
	require.NoError(t, err)
	require.NotNil(t, out.Pair)
	assert.Equal(t, Pair{Left: r2.Point{X: 1, Y: 2}, Right: r2.Point{X: 5, Y: 6}}, *out.Pair)
}

func TestSameSideClickReplacesPending(t *testing.T) {
	s := newSession(t)
	_, err := s.PrimaryRaw(Left, r2.Point{X: 1, Y: 1})
	require.NoError(t, err)
	out, err := s.PrimaryRaw(Left, r2.Point{X: 9, Y: 9})
	require.NoError(t, err)
	assert.Equal(t, PendingReplaced, out.Kind)
	assert.Equal(t, AwaitingRight, s.State())

	v, _ := s.View(Left, Detail)
	assert.Equal(t, []r2.Point{{X: 9, Y: 9}}, v.Markers(view.Pending))

	_, err = s.PrimaryRaw(Right, r2.Point{X: 3, Y: 3})
	require.NoError(t, err)
	assert.Equal(t, []Pair{{Left: r2.Point{X: 9, Y: 9}, Right: r2.Point{X: 3, Y: 3}}}, s.Pairs())
}

func TestClearLastWhileAwaiting(t *testing.T) {
	s := newSession(t)
	addPairs(t, s, r2.Point{}, r2.Point{X: 1, Y: 1})
	_, err := s.PrimaryRaw(Right, r2.Point{X: 7, Y: 7})
	require.NoError(t, err)

	s.ClearLast()
	assert.Equal(t, Idle, s.State())
	assert.Len(t, s.Pairs(), 1)
	v, _ := s.View(Right, Detail)
	assert.Empty(t, v.Markers(view.Pending))
}

func TestClearAll(t *testing.T) {
	s := newSession(t)
	addPairs(t, s, r2.Point{}, r2.Point{X: 1, Y: 1}, r2.Point{X: 2, Y: 2})
	_, err := s.PrimaryRaw(Left, r2.Point{X: 3, Y: 3})
	require.NoError(t, err)

	s.ClearAll()
	assert.Empty(t, s.Pairs())
	assert.Equal(t, Idle, s.State())
	snap := s.Snapshot()
	assert.Nil(t, snap.Left.Pending)
}

func TestNavigationClickRecentersDetail(t *testing.T) {
	s := newSession(t)
	// Navigation: 200x100 image fits 100x50 panel at scale 0.5.
	out, err := s.Click(Left, Navigation, Primary, r2.Point{X: 10, Y: 20})
	require.NoError(t, err)
	assert.Equal(t, Recentered, out.Kind)
	assert.Equal(t, Idle, s.State())

	v, _ := s.View(Left, Detail)
	assert.InDelta(t, 20, v.Viewport().Center().X, 1e-9)
	assert.InDelta(t, 40, v.Viewport().Center().Y, 1e-9)
}

func TestSecondaryClickRecenters(t *testing.T) {
	s := newSession(t)
	out, err := s.Click(Right, Detail, Secondary, r2.Point{X: 0, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, Recentered, out.Kind)
	assert.False(t, out.Synced)

	v, _ := s.View(Right, Detail)
	// Panel origin was raw (75, 37.5).
	assert.InDelta(t, 75, v.Viewport().Center().X, 1e-9)
	assert.InDelta(t, 37.5, v.Viewport().Center().Y, 1e-9)
	assert.Empty(t, s.Pairs())
}

func TestRelativeTransformAmbiguous(t *testing.T) {
	s := newSession(t)
	_, err := s.RelativeTransform(Left)
	assert.ErrorIs(t, err, ErrAmbiguousAlignment)
	assert.ErrorIs(t, s.SetSync(true), ErrSyncUnavailable)
	assert.False(t, s.SyncAvailable())
}

func TestAlignAndSync(t *testing.T) {
	s := newSession(t)
	d := r2.Point{X: 10, Y: 5}
	addPairs(t, s, d, r2.Point{X: 20, Y: 20}, r2.Point{X: 150, Y: 30}, r2.Point{X: 60, Y: 90})
	require.NoError(t, s.SetTransformClass(fit.Translation))
	require.NoError(t, s.SetZoom(Right, 800))

	res, err := s.Align(Left)
	require.NoError(t, err)
	assert.True(t, res.Matrix.ApproxEqual(homography.Translation(10, 5), 1e-9))
	assert.Equal(t, 3, res.InlierCount)
	assert.InDelta(t, 0, res.RMSE, 1e-9)

	leftDetail, _ := s.View(Left, Detail)
	rightDetail, _ := s.View(Right, Detail)
	leftNav, _ := s.View(Left, Navigation)
	require.NotNil(t, leftDetail.Viewport().Align())
	require.NotNil(t, leftNav.Viewport().Align())
	assert.Nil(t, rightDetail.Viewport().Align())
	assert.Equal(t, viewport.Size{Width: 200, Height: 100}, leftDetail.Viewport().CorrectedShape())
	assert.Equal(t, 800.0, leftDetail.Viewport().Zoom())
	assert.True(t, s.Sync())
	assert.True(t, s.SyncAvailable())

	// Left raw (20, 20) corresponds to right raw (30, 25).
	rel, err := s.RelativeTransform(Left)
	require.NoError(t, err)
	p, err := homography.Apply(rel, r2.Point{X: 20, Y: 20})
	require.NoError(t, err)
	assert.InDelta(t, 30, p.X, 1e-9)
	assert.InDelta(t, 25, p.Y, 1e-9)

	out, err := s.SecondaryRaw(Right, r2.Point{X: 30, Y: 25})
	require.NoError(t, err)
	assert.True(t, out.Synced)
	assert.InDelta(t, 20, leftDetail.Viewport().Center().X, 1e-9)
	assert.InDelta(t, 20, leftDetail.Viewport().Center().Y, 1e-9)

	// Aligned left detail shows left (20,20) where right shows (30,25).
	lp, err := leftDetail.RawToPanel(r2.Point{X: 20, Y: 20})
	require.NoError(t, err)
	assert.InDelta(t, 100, lp.X, 1e-9)
	assert.InDelta(t, 50, lp.Y, 1e-9)

	require.NoError(t, s.AlignOriginal())
	assert.False(t, s.Sync())
	assert.Nil(t, leftDetail.Viewport().Align())
	_, err = s.SecondaryRaw(Right, r2.Point{X: 1, Y: 1})
	assert.NoError(t, err)
}

func TestAlignRightOntoLeft(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.LoadImage(Left, flat(300, 150, 10)))
	require.NoError(t, s.SetPanelSize(Left, Detail, 200, 100))
	addPairs(t, s, r2.Point{X: -4, Y: 2}, r2.Point{X: 10, Y: 10}, r2.Point{X: 80, Y: 40})
	require.NoError(t, s.SetTransformClass(fit.Rigid))

	_, err := s.Align(Right)
	require.NoError(t, err)

	rightDetail, _ := s.View(Right, Detail)
	assert.Equal(t, viewport.Size{Width: 300, Height: 150}, rightDetail.Viewport().CorrectedShape())

	rel, err := s.RelativeTransform(Left)
	require.NoError(t, err)
	p, err := homography.Apply(rel, r2.Point{X: 10, Y: 10})
	require.NoError(t, err)
	assert.InDelta(t, 6, p.X, 1e-6)
	assert.InDelta(t, 12, p.Y, 1e-6)
}

func TestAlignInsufficientPointsLeavesState(t *testing.T) {
	s := newSession(t)
	addPairs(t, s, r2.Point{X: 1, Y: 1}, r2.Point{X: 5, Y: 5})

	_, err := s.Align(Left)
	var ipe *fit.InsufficientPointsError
	require.True(t, errors.As(err, &ipe), "got %v", err)
	assert.Equal(t, 4, ipe.Required)
	assert.Equal(t, 1, ipe.Got)

	v, _ := s.View(Left, Detail)
	assert.Nil(t, v.Viewport().Align())
	assert.False(t, s.Sync())
	assert.Len(t, s.Pairs(), 1)
}

func TestAlignNeedsBothImages(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.DiscardHandler)
	s := New(opts)
	require.NoError(t, s.LoadImage(Left, flat(10, 10, 0)))
	_, err := s.Align(Left)
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestAlignRobust(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.DiscardHandler)
	opts.Robust = true
	opts.TransformClass = fit.Translation
	opts.RANSAC = fit.RANSACOptions{Threshold: 1, Iterations: 50, Seed: 3}
	s := New(opts)
	require.NoError(t, s.LoadImage(Left, flat(50, 50, 0)))
	require.NoError(t, s.LoadImage(Right, flat(50, 50, 0)))

	addPairs(t, s, r2.Point{X: 2, Y: 3}, r2.Point{X: 1, Y: 1}, r2.Point{X: 10, Y: 4}, r2.Point{X: 30, Y: 20})
	addPairs(t, s, r2.Point{X: 20, Y: -9}, r2.Point{X: 5, Y: 40})

	res, err := s.Align(Left)
	require.NoError(t, err)
	assert.Equal(t, 3, res.InlierCount)
	assert.Equal(t, []bool{true, true, true, false}, res.Inliers)
	assert.True(t, res.Matrix.ApproxEqual(homography.Translation(2, 3), 1e-9))
}

func TestTransformNeedsFourPairs(t *testing.T) {
	s := newSession(t)
	truth := homography.FromRows([3][3]float64{{1.1, 0.02, 4}, {-0.01, 0.95, -3}, {1e-4, 0, 1}})
	left := []r2.Point{{X: 10, Y: 10}, {X: 190, Y: 12}, {X: 180, Y: 90}, {X: 15, Y: 85}}

	for i, p := range left[:3] {
		q, err := homography.Apply(truth, p)
		require.NoError(t, err)
		_, _ = s.PrimaryRaw(Left, p)
		_, _ = s.PrimaryRaw(Right, q)
		assert.Len(t, s.Pairs(), i+1)
	}
	_, err := s.Transform(Left)
	var ipe *fit.InsufficientPointsError
	require.True(t, errors.As(err, &ipe))

	q, err := homography.Apply(truth, left[3])
	require.NoError(t, err)
	_, _ = s.PrimaryRaw(Left, left[3])
	_, _ = s.PrimaryRaw(Right, q)

	h, err := s.Transform(Left)
	require.NoError(t, err)
	assert.True(t, h.ApproxEqual(truth, 1e-6), "got %v", h)
}

func TestSetPairsAndLoadImage(t *testing.T) {
	s := newSession(t)
	_, err := s.PrimaryRaw(Left, r2.Point{X: 1, Y: 1})
	require.NoError(t, err)

	pairs := []Pair{{Left: r2.Point{X: 1, Y: 2}, Right: r2.Point{X: 3, Y: 4}}}
	s.SetPairs(pairs)
	assert.Equal(t, pairs, s.Pairs())
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, []r2.Point{{X: 3, Y: 4}}, s.Points(Right))

	require.NoError(t, s.LoadImage(Right, flat(64, 64, 200)))
	assert.Empty(t, s.Pairs())
	v, _ := s.View(Right, Detail)
	assert.Equal(t, r2.Point{X: 32, Y: 32}, v.Viewport().Center())

	assert.ErrorIs(t, s.LoadImage(Left, nil), viewport.ErrInvalidImage)
}

func TestReplaceImageKeepsPoints(t *testing.T) {
	s := newSession(t)
	addPairs(t, s, r2.Point{}, r2.Point{X: 4, Y: 4})
	v, _ := s.View(Left, Detail)
	require.NoError(t, v.Viewport().SetCenter(r2.Point{X: 12, Y: 13}))

	require.NoError(t, s.ReplaceImage(Left, flat(200, 100, 250)))
	assert.Len(t, s.Pairs(), 1)
	assert.Equal(t, r2.Point{X: 12, Y: 13}, v.Viewport().Center())

	assert.ErrorIs(t, s.ReplaceImage(Left, nil), viewport.ErrInvalidImage)
}

func TestReplaceImageNewShapeResetsAlignment(t *testing.T) {
	s := newSession(t)
	addPairs(t, s, r2.Point{X: 10, Y: 5},
		r2.Point{X: 20, Y: 20}, r2.Point{X: 150, Y: 30}, r2.Point{X: 60, Y: 90}, r2.Point{X: 120, Y: 70})
	require.NoError(t, s.SetTransformClass(fit.Translation))
	_, err := s.Align(Left)
	require.NoError(t, err)
	require.True(t, s.Sync())

	require.NoError(t, s.ReplaceImage(Right, flat(400, 300, 90)))

	leftDetail, _ := s.View(Left, Detail)
	leftNav, _ := s.View(Left, Navigation)
	rightDetail, _ := s.View(Right, Detail)
	assert.Nil(t, leftDetail.Viewport().Align())
	assert.Nil(t, leftNav.Viewport().Align())
	assert.Equal(t, viewport.Size{Width: 200, Height: 100}, leftDetail.Viewport().CorrectedShape())
	assert.Equal(t, viewport.Size{Width: 400, Height: 300}, rightDetail.Viewport().CorrectedShape())
	assert.False(t, s.Sync())
	assert.Empty(t, s.Pairs())
	_, err = s.RelativeTransform(Left)
	assert.ErrorIs(t, err, ErrAmbiguousAlignment)
}

func TestReplaceImageNewShapeKeepsContrast(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.SetContrast(Left, 2))

	require.NoError(t, s.ReplaceImage(Left, flat(120, 80, 90)))
	assert.Equal(t, 2.0, s.Contrast(Left))
	v, _ := s.View(Left, Detail)
	assert.Equal(t, viewport.Size{Width: 120, Height: 80}, v.Viewport().CorrectedShape())
}

func TestReferenceMarkers(t *testing.T) {
	s := newSession(t)
	refs := []r2.Point{{X: 5, Y: 6}, {X: 70, Y: 40}}
	require.NoError(t, s.SetReferenceMarkers(Left, refs))

	assert.Equal(t, refs, s.Snapshot().Left.References)
	assert.Empty(t, s.Snapshot().Right.References)
	nav, _ := s.View(Left, Navigation)
	assert.Equal(t, refs, nav.Markers(view.Reference))

	// Pair bookkeeping leaves reference markers alone.
	addPairs(t, s, r2.Point{}, r2.Point{X: 20, Y: 20})
	s.ClearAll()
	assert.Equal(t, refs, s.Snapshot().Left.References)

	require.NoError(t, s.SetReferenceMarkers(Left, nil))
	assert.Empty(t, s.Snapshot().Left.References)
	assert.Error(t, s.SetReferenceMarkers(Side(5), refs))
}

func TestContrastKeepsOriginal(t *testing.T) {
	s := newSession(t)
	ramp := image.NewGray(image.Rect(0, 0, 200, 100))
	for i := range ramp.Pix {
		ramp.Pix[i] = uint8(100 + i%7)
	}
	require.NoError(t, s.LoadImage(Left, ramp))
	require.NoError(t, s.SetPanelSize(Left, Detail, 200, 100))

	require.NoError(t, s.SetContrast(Left, 3))
	assert.Equal(t, 3.0, s.Contrast(Left))
	v, _ := s.View(Left, Detail)
	assert.NotSame(t, ramp, v.Viewport().Image())

	require.NoError(t, s.SetContrast(Left, 0))
	assert.Same(t, ramp, v.Viewport().Image())

	opts := DefaultOptions()
	opts.Logger = slog.New(slog.DiscardHandler)
	empty := New(opts)
	assert.ErrorIs(t, empty.SetContrast(Left, 1), ErrNoImage)
}

func TestRenderPanels(t *testing.T) {
	s := newSession(t)
	addPairs(t, s, r2.Point{}, r2.Point{X: 100, Y: 50})

	img, err := s.Render(Left, Detail)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 100), img.Bounds())

	img, err = s.Render(Left, Navigation)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), img.Bounds())

	text, ok := s.Hover(Left, Detail, r2.Point{X: 100, Y: 50})
	assert.True(t, ok)
	assert.Equal(t, "Raw Image Coordinates (100.00,50.00)", text)
}

func TestWheelAndZoomLabel(t *testing.T) {
	s := newSession(t)
	assert.Equal(t, "400%", s.ZoomLabel(Left))
	require.NoError(t, s.Wheel(Left, 5, true))
	assert.Equal(t, "644%", s.ZoomLabel(Left))
	assert.Equal(t, "400%", s.ZoomLabel(Right))
}

func TestSettings(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.SetInterpolation(resample.Lanczos))
	v, _ := s.View(Right, Navigation)
	assert.Equal(t, resample.Lanczos, v.Interpolation())
	assert.Error(t, s.SetInterpolation(resample.Interpolation(9)))

	require.NoError(t, s.SetTransformClass(fit.Affine))
	assert.Equal(t, fit.Affine, s.TransformClass())
	assert.Error(t, s.SetTransformClass(fit.TransformClass(7)))
}

func TestFinishAndCancel(t *testing.T) {
	s := newSession(t)
	addPairs(t, s, r2.Point{X: 1, Y: 0}, r2.Point{X: 2, Y: 2})

	_, done := s.Done()
	assert.False(t, done)

	res := s.Finish()
	assert.False(t, res.Cancelled)
	assert.Len(t, res.Pairs, 1)

	// The first conclusion wins.
	again := s.Cancel()
	assert.False(t, again.Cancelled)

	s2 := newSession(t)
	c := s2.Cancel()
	assert.True(t, c.Cancelled)
	assert.Empty(t, c.Pairs)
}

func TestSnapshotJSON(t *testing.T) {
	s := newSession(t)
	_, err := s.PrimaryRaw(Left, r2.Point{X: 3, Y: 4})
	require.NoError(t, err)

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "awaiting_right", got["state"])
	assert.Equal(t, "homography", got["transform_class"])
	assert.Equal(t, "nearest", got["interpolation"])
	assert.Equal(t, false, got["sync_available"])
	left := got["left"].(map[string]any)
	assert.Equal(t, "400%", left["zoom_label"])
	assert.NotNil(t, left["pending"])
}

func TestParseSideAndPanel(t *testing.T) {
	sd, err := ParseSide("RIGHT")
	require.NoError(t, err)
	assert.Equal(t, Right, sd)
	_, err = ParseSide("middle")
	assert.Error(t, err)

	p, err := ParsePanel("zoom")
	require.NoError(t, err)
	assert.Equal(t, Detail, p)
	p, err = ParsePanel("nav")
	require.NoError(t, err)
	assert.Equal(t, Navigation, p)
	_, err = ParsePanel("side")
	assert.Error(t, err)

	assert.Equal(t, Left, Right.Other())
}
