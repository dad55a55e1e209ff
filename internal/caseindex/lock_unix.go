//go:build unix

package caseindex

import "syscall"

// isProcessRunning checks if a process with given PID is running on Unix systems
func isProcessRunning(pid int) bool {
	// Signal 0 performs the existence and permission checks without
	// delivering anything
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM: the process exists but belongs to someone else
	return err == syscall.EPERM
}
