package hid

import (
	"fmt"
	"os"
	"sync"

	"github.com/kvmpipe/kvmpipe/internal/klog"
)

var log = klog.New("Gadget")

// KeyboardSink writes USB HID boot-protocol keyboard reports to a
// /dev/hidg* character device, grounded on
// kvm_gadget/src/kvm_keyboard.cpp's KeyboardEmulator.
type KeyboardSink struct {
	mu sync.Mutex
	f  *os.File
}

// OpenKeyboardSink opens the gadget character device for writing keyboard
// reports.
func OpenKeyboardSink(path string) (*KeyboardSink, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open keyboard device %s: %w", path, err)
	}
	log.Info("keyboard emulator ready on %s", path)
	return &KeyboardSink{f: f}, nil
}

// SendReport writes an 8-byte boot-protocol keyboard report: modifier byte,
// a reserved byte, then up to 6 simultaneous keypress scan codes.
func (k *KeyboardSink) SendReport(modifier byte, keypresses []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var buf [8]byte
	buf[0] = modifier
	n := len(keypresses)
	if n > 6 {
		n = 6
	}
	copy(buf[2:2+n], keypresses[:n])

	written, err := k.f.Write(buf[:])
	if err != nil {
		return fmt.Errorf("write keyboard device: %w", err)
	}
	if written != len(buf) {
		return fmt.Errorf("short write to keyboard device: %d of %d bytes", written, len(buf))
	}
	return nil
}

// Close releases the gadget device handle.
func (k *KeyboardSink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.f.Close()
}
