// Package ocr defines the detector layer for label scanning: a small,
// transport-agnostic engine contract plus the adapter that normalizes every
// provider's raw output into clamped-confidence word tokens in reading order.
// Engines can be backed by native libraries, local binaries, or remote APIs
// without leaking provider-specific concerns into callers; two engines run as
// a Pair so independent detectors can disagree and a fusion stage can
// reconcile them.
package ocr
