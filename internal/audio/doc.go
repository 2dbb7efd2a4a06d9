// Package audio provides the sample-level primitives of the pipeline:
// the fixed-capacity ring buffer, RMS and cross-correlation measurements,
// audio chunk types and PCM/WAV conversion.
package audio 