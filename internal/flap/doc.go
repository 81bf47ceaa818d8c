// Package flap detects hosts whose health keeps flipping so that flip
// notifications can be held back while a host is unstable.
//
// Each host gets a Damper with two states:
//
//   - STABLE: flips are reported as they happen
//   - FLAPPING: the host flipped threshold times within the window;
//     reports are suppressed until a full window passes without a flip
//
// Usage:
//
//	registry := flap.NewRegistry(3, 10*time.Minute)
//	d := registry.Get("192.0.2.10")
//	d.RecordFlip(time.Now())
//	if d.Allow(time.Now()) {
//	    // send notification
//	}
package flap
