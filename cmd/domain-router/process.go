package main

import (
	"net"
	"os"
	"runtime"
	"strconv"
)

// processFields describes the running process for the startup log line
func processFields() map[string]interface{} {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return map[string]interface{}{
		"pid":        os.Getpid(),
		"uid":        os.Getuid(),
		"hostname":   hostname,
		"go_version": runtime.Version(),
	}
}

// listenAddress joins host with the configured admin port. A valid PORT
// environment variable, as set by process supervisors, takes precedence.
func listenAddress(host string, configured int) string {
	return net.JoinHostPort(host, strconv.Itoa(getPort(configured)))
}

func getPort(configured int) int {
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port > 0 && port <= 65535 {
		return port
	}
	return configured
}
