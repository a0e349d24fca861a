package errors

import "fmt"

// PortExhaustedError indicates that no free port was found within the probe window.
type PortExhaustedError struct {
	BasePort int
	Probes   int
}

// Error is an implementation of the error interface.
func (n *PortExhaustedError) Error() string {
	return fmt.Sprintf("no free port in range %d-%d", n.BasePort, n.BasePort+n.Probes-1)
}
