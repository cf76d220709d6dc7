package link

import (
	serial "github.com/daedaluz/goserial"
)

// OpenSerial opens a USB network interface device node at the given
// baud rate and wraps it as a Port. Reads are expected to be non-blocking
// partial reads, matching the raw-mode termios configuration goserial
// applies by default on Linux.
func OpenSerial(device string, baud int) (Port, error) {
	return serial.Open(device, serial.WithBaudrate(baud))
}
