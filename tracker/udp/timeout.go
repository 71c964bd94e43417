package udp

import "time"

// The wait after the 9th transmission is the last. See BEP 15.
const (
	maxRetransmissions = 8
	maxTimeout         = (15 * time.Second) << maxRetransmissions
)

// Wait for a response after n previous timeouts: 15 * 2^n seconds.
func timeout(contiguousTimeouts int) (d time.Duration) {
	if contiguousTimeouts > maxRetransmissions {
		contiguousTimeouts = maxRetransmissions
	}
	d = 15 * time.Second
	for ; contiguousTimeouts > 0; contiguousTimeouts-- {
		d *= 2
	}
	return
}
