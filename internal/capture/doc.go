// Package capture drives the microphone sample source: the continuous engine
// that assembles fixed-duration overlapping windows, gates them through VAD,
// and enqueues speech windows for delivery; and the one-shot enrollment
// recorder with its minimum-duration policy.
package capture
