//go:build !linux && !windows

package engine

func becomeSubreaper() {}
