package main

import (
	"os"
	"strconv"
)

// getProcessInfo returns process information for logging
func getProcessInfo() map[string]interface{} {
	return map[string]interface{}{
		"pid":      os.Getpid(),
		"hostname": getHostname(),
	}
}

// getHostname safely gets hostname
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// getPort lets PORT override the configured listen port
func getPort(defaultPort int) int {
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port <= 65535 {
			return port
		}
	}
	return defaultPort
}
