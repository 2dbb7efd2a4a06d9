// Package config provides configuration loading and validation for the
// echofuse engine. It handles YAML-based configuration with per-section
// validation, including the calibration parameters of the leakage
// discriminator and timeline merger.
package config 