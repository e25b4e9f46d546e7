// Package capture provides a gocv.io/x/gocv-backed reference implementation
// of pipeline.Source, grounded on cvpipe/pipeline.go's raw-frame ingestion
// (the teacher's decoder goroutine reading fixed-size BGR frames).
package capture

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// DeviceConfig describes one capturable device, loaded from a JSON config
// file so the reference source can be pointed at a device without
// recompiling (spec.md supplemented feature: capture device enumeration).
type DeviceConfig struct {
	Path       string
	Width      int
	Height     int
	Framerate  int
	PixelOrder string // "bgr" or "mjpeg", matches the stream this device emits
}

// LoadDeviceConfigs parses a JSON array of device descriptors, e.g.:
//
//	[
//	  {"path": "/dev/video0", "width": 1920, "height": 1080, "fps": 30, "pixelOrder": "mjpeg"},
//	  {"path": "/dev/video1", "width": 1280, "height": 720,  "fps": 30, "pixelOrder": "bgr"}
//	]
func LoadDeviceConfigs(path string) ([]DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device config: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("device config %s is not valid JSON", path)
	}

	var out []DeviceConfig
	var parseErr error
	gjson.ParseBytes(data).ForEach(func(_, value gjson.Result) bool {
		devPath := value.Get("path").String()
		if devPath == "" {
			parseErr = fmt.Errorf("device entry missing \"path\"")
			return false
		}
		pixelOrder := value.Get("pixelOrder").String()
		if pixelOrder == "" {
			pixelOrder = "bgr"
		}
		out = append(out, DeviceConfig{
			Path:       devPath,
			Width:      int(value.Get("width").Int()),
			Height:     int(value.Get("height").Int()),
			Framerate:  int(value.Get("fps").Int()),
			PixelOrder: pixelOrder,
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

// DefaultDevices enumerates the conventional V4L2 device path range used
// when no config file is supplied.
func DefaultDevices() []DeviceConfig {
	devices := make([]DeviceConfig, 0, 4)
	for i := 0; i < 4; i++ {
		devices = append(devices, DeviceConfig{
			Path:       fmt.Sprintf("/dev/video%d", i),
			Width:      1920,
			Height:     1080,
			Framerate:  30,
			PixelOrder: "mjpeg",
		})
	}
	return devices
}
