package hid

import (
	"fmt"
	"os"
	"sync"
)

// MouseSink writes USB HID absolute-position mouse reports to a
// /dev/hidg* character device, grounded on
// kvm_gadget/src/kvm_mouse.cpp's MouseEmulator.
type MouseSink struct {
	mu sync.Mutex
	f  *os.File
}

// OpenMouseSink opens the gadget character device for writing mouse reports.
func OpenMouseSink(path string) (*MouseSink, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open mouse device %s: %w", path, err)
	}
	log.Info("mouse emulator ready on %s", path)
	return &MouseSink{f: f}, nil
}

// SendReport writes a 5-byte report: button state, then absolute X and Y
// coordinates as little-endian int16.
func (m *MouseSink) SendReport(buttons byte, x, y int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf [5]byte
	buf[0] = buttons
	writeU16LE(buf[1:3], uint16(x))
	writeU16LE(buf[3:5], uint16(y))

	written, err := m.f.Write(buf[:])
	if err != nil {
		return fmt.Errorf("write mouse device: %w", err)
	}
	if written != len(buf) {
		return fmt.Errorf("short write to mouse device: %d of %d bytes", written, len(buf))
	}
	return nil
}

// Close releases the gadget device handle.
func (m *MouseSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.f.Close()
}
