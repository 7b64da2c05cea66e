// Package vad implements the coarse energy-based voice-activity gate that
// decides whether a capture window carries speech. Classification is a mean
// absolute amplitude threshold: cheap, O(n), and deliberately tolerant of
// false positives since the remote service does the real filtering.
package vad
