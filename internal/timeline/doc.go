// Package timeline turns per-chunk leakage verdicts into local speech
// segments and merges them with the remote diarization timeline into a
// single, time-ordered multi-speaker segment list.
package timeline
