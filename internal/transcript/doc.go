// Package transcript assembles incremental transcription output into
// finalized, punctuation-bounded sentence segments attributed to the
// speaker active at the time of each increment.
package transcript
