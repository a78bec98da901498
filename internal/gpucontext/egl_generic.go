//go:build !linux

package gpucontext

import "fmt"

// New is unimplemented on non-Linux platforms, mirroring the teacher's
// headless.NewHeadless stub (headless/egl_generic.go) — the accelerator
// context backends for other platforms (VideoToolbox/D3D11) are out of
// scope for this pipeline.
func New() (Context, error) {
	return nil, fmt.Errorf("gpucontext: headless accelerator context is not supported on this platform")
}
