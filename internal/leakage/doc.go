// Package leakage classifies microphone audio as silence, genuine local
// speech, or leakage of the remote stream picked up by the microphone.
// The discriminator keeps a rolling reference of recent remote samples and
// combines RMS energy with lag-searched cross-correlation; all thresholds
// are calibration parameters supplied by configuration.
package leakage
