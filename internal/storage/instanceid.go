package storage

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateInstanceID returns an identifier for this process. It is stored next to
// every job the process ran so history rows from several replicas sharing one
// database can be told apart.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
