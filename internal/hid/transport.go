package hid

import "sync"

func readU16LE(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func writeU16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// InputTransport decodes the browser's combined mouse/keyboard report
// stream and dispatches decoded reports to the gadget sinks, grounded on
// kvm_gadget/src/kvm_transport.cpp's InputTransport::ParseReports.
//
// Each report is framed as: [truncated_id][bits][payload...], where bits'
// low 7 bits give the payload length and the high bit distinguishes mouse
// (1) from keyboard (0) reports. Reports whose expanded identifier is not
// newer than the last one accepted are silently skipped — this both
// deduplicates retransmissions and enforces in-order delivery.
type InputTransport struct {
	mu             sync.Mutex
	Keyboard       *KeyboardSink
	Mouse          *MouseSink
	prevIdentifier uint32
}

// NewInputTransport returns a transport dispatching to the given sinks.
// Either sink may be nil, in which case reports of that kind are decoded
// (for identifier bookkeeping) but dropped without being sent.
func NewInputTransport(keyboard *KeyboardSink, mouse *MouseSink) *InputTransport {
	return &InputTransport{Keyboard: keyboard, Mouse: mouse}
}

// ParseReports consumes every complete report in data, returning false if
// any dispatched report failed to write to its sink.
func (t *InputTransport) ParseReports(data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	success := true

	for len(data) >= 3 {
		id := expand32FromTruncated8WithBias(t.prevIdentifier, data[0], -32)
		bits := data[1]
		count := int(bits & 0x7f)

		advance := 2 + count
		if advance > len(data) {
			break // truncated trailing report, discard
		}

		if id > t.prevIdentifier {
			t.prevIdentifier = id

			isMouse := bits&0x80 != 0
			if isMouse {
				if count >= 5 {
					buttons := data[2]
					x := int16(readU16LE(data[3:5]))
					y := int16(readU16LE(data[5:7]))
					if t.Mouse != nil {
						if err := t.Mouse.SendReport(buttons, x, y); err != nil {
							log.Error("mouse report failed: %v", err)
							success = false
						}
					}
				}
			} else {
				if count >= 1 {
					modifier := data[2]
					keys := data[3:advance]
					if t.Keyboard != nil {
						if err := t.Keyboard.SendReport(modifier, keys); err != nil {
							log.Error("keyboard report failed: %v", err)
							success = false
						}
					}
				}
			}
		}

		data = data[advance:]
	}

	return success
}
