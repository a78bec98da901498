package pipeline

// VideoSource is the capture thread's raw-frame producer (spec 4.E/§2's
// "capture thread -> raw frame -> GPU encoder driver"). The platform
// screen/window/region capture API is an out-of-scope external
// collaborator (spec §1); callers of this package supply whatever
// produces NV12 planes at the configured dimensions, e.g. a real capture
// backend in a host application, or SyntheticVideoSource below for
// exercising the pipeline without one.
type VideoSource interface {
	// NextFrame returns one frame's Y and interleaved-UV planes in NV12,
	// sized for the session's configured width/height, or ok=false if no
	// frame is currently available.
	NextFrame() (planeY, planeUV []byte, ok bool)
	Close()
}

// SyntheticVideoSource stands in for a real capture backend: it produces
// a flat-gray NV12 frame of the configured dimensions on every call, cheap
// enough to drive the encoder at interactive frame rates for demos and
// tests without a GPU capture path.
type SyntheticVideoSource struct {
	width, height int
	frame         int
}

func NewSyntheticVideoSource(width, height int) *SyntheticVideoSource {
	return &SyntheticVideoSource{width: width, height: height}
}

func (s *SyntheticVideoSource) NextFrame() (planeY, planeUV []byte, ok bool) {
	y := make([]byte, s.width*s.height)
	level := byte(s.frame % 256)
	for i := range y {
		y[i] = level
	}
	uv := make([]byte, s.width*s.height/2)
	for i := range uv {
		uv[i] = 128
	}
	s.frame++
	return y, uv, true
}

func (s *SyntheticVideoSource) Close() {}
