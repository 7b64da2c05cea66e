// Package audio provides the microphone sample source abstraction and the
// linear-PCM WAV container codec used to package capture windows for upload.
package audio
