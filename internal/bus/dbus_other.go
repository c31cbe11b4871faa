//go:build !linux

package bus

import "fmt"

// NewPublisher creates a new platform-specific publisher.
// This is the fallback for platforms without a session bus.
func NewPublisher() (Publisher, error) {
	return nil, fmt.Errorf("bus publishing not supported on this platform")
}
