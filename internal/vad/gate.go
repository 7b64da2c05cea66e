package vad

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// MaxAmplitude is the largest magnitude a 16-bit PCM sample can carry.
const MaxAmplitude = 32767

// Gate is an energy-based speech/non-speech classifier. A block classifies as
// speech when its mean absolute sample magnitude exceeds the configured
// threshold. The threshold is expressed in raw 16-bit amplitude units.
type Gate struct {
	threshold float64

	// Statistics
	totalBlocks  uint64
	speechBlocks uint64

	mu sync.RWMutex
}

// GateStats reports classification counters for monitoring.
type GateStats struct {
	Threshold        float64 `json:"threshold"`
	TotalBlocks      uint64  `json:"total_blocks"`
	SpeechBlocks     uint64  `json:"speech_blocks"`
	SpeechPercentage float64 `json:"speech_percentage"`
}

// NewGate creates a gate with the given energy threshold. The threshold must
// lie strictly between zero and full-scale amplitude so that silence always
// classifies as non-speech and a full-scale block always classifies as speech.
func NewGate(threshold float64) (*Gate, error) {
	if threshold <= 0 || threshold >= MaxAmplitude {
		return nil, fmt.Errorf("threshold must be between 0 and %d exclusive, got %f", MaxAmplitude, threshold)
	}
	return &Gate{threshold: threshold}, nil
}

// Classify returns true iff the mean absolute amplitude of the block exceeds
// the threshold. An empty block classifies as non-speech.
func (g *Gate) Classify(samples []int16) bool {
	if len(samples) == 0 {
		g.record(false)
		return false
	}

	var sum uint64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += uint64(v)
	}
	mean := float64(sum) / float64(len(samples))

	g.mu.RLock()
	threshold := g.threshold
	g.mu.RUnlock()

	speech := mean > threshold
	g.record(speech)
	return speech
}

// ClassifyPCM classifies raw little-endian 16-bit mono PCM bytes. A trailing
// odd byte is ignored.
func (g *Gate) ClassifyPCM(pcm []byte) bool {
	n := len(pcm) / 2
	if n == 0 {
		g.record(false)
		return false
	}

	var sum uint64
	for i := 0; i < n; i++ {
		v := int64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		if v < 0 {
			v = -v
		}
		sum += uint64(v)
	}
	mean := float64(sum) / float64(n)

	g.mu.RLock()
	threshold := g.threshold
	g.mu.RUnlock()

	speech := mean > threshold
	g.record(speech)
	return speech
}

func (g *Gate) record(speech bool) {
	g.mu.Lock()
	g.totalBlocks++
	if speech {
		g.speechBlocks++
	}
	g.mu.Unlock()
}

// UpdateThreshold changes the silence-rejection sensitivity at runtime.
func (g *Gate) UpdateThreshold(threshold float64) error {
	if threshold <= 0 || threshold >= MaxAmplitude {
		return fmt.Errorf("threshold must be between 0 and %d exclusive, got %f", MaxAmplitude, threshold)
	}
	g.mu.Lock()
	g.threshold = threshold
	g.mu.Unlock()
	return nil
}

// GetThreshold returns the current energy threshold.
func (g *Gate) GetThreshold() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.threshold
}

// GetStats returns current classification statistics.
func (g *Gate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pct := float64(0)
	if g.totalBlocks > 0 {
		pct = float64(g.speechBlocks) / float64(g.totalBlocks) * 100
	}

	return GateStats{
		Threshold:        g.threshold,
		TotalBlocks:      g.totalBlocks,
		SpeechBlocks:     g.speechBlocks,
		SpeechPercentage: pct,
	}
}

// Reset clears the classification counters.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.totalBlocks = 0
	g.speechBlocks = 0
	g.mu.Unlock()
}
