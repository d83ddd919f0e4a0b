//go:build windows

package main

func browserAvailable() bool {
	return true
}
