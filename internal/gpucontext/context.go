// Package gpucontext abstracts accelerator device enumeration and
// context create/push/pop/destroy (spec 4.E component K), independent of
// the encode calls themselves. The interface and its reverse-order
// teardown discipline are grounded on the teacher's headless.Headless
// (headless/egl_linux.go), generalized from "get a GL-capable display for
// offscreen rendering" to "get an accelerator context an encoder can push
// around a host-to-device memcpy."
package gpucontext

// Context is the GPU context handle the encoder session owns. PushCurrent
// must be matched by PopCurrent on every control path, including error
// paths, per spec 4.E's "copy is contextual" requirement.
type Context interface {
	// PushCurrent makes the context current on the calling thread.
	PushCurrent() error
	// PopCurrent releases the context from the calling thread.
	PopCurrent() error
	// Destroy releases the context and any device/display handles it owns,
	// in reverse order of acquisition. Safe to call on a partially
	// constructed context.
	Destroy()
}

// Device describes one enumerated accelerator. New neither returns nor
// accepts one: on Linux it uses the first EGL device that yields a valid
// display, with no way for the caller to pick another GPU.
type Device struct {
	Index int
	Name  string
}
