// Package location defines the pull-based, best-effort coordinates provider
// consumed by the capture engine. The pipeline only needs a point-in-time
// snapshot per window; acquisition itself is an external collaborator concern.
package location
