// Package pipeline implements the download, register and integrate stages and
// the runner that drives them over a batch of descriptors.
package pipeline
