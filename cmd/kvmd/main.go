// cmd/kvmd/main.go
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/kvmpipe/kvmpipe/internal/capture"
	"github.com/kvmpipe/kvmpipe/internal/encoder"
	"github.com/kvmpipe/kvmpipe/internal/frame"
	"github.com/kvmpipe/kvmpipe/internal/hid"
	"github.com/kvmpipe/kvmpipe/internal/klog"
	"github.com/kvmpipe/kvmpipe/internal/pipeline"
	"github.com/kvmpipe/kvmpipe/internal/relay"
	"github.com/kvmpipe/kvmpipe/internal/rtppay"
	"github.com/kvmpipe/kvmpipe/internal/signal"
	"github.com/kvmpipe/kvmpipe/internal/statstore"
)

var log = klog.New("Main")

func main() {
	httpAddr := flag.String("http", ":8080", "HTTP/websocket listen address")
	deviceConfig := flag.String("capture-device-config", "", "optional JSON device enumeration file (internal/capture)")
	hidKeyboard := flag.String("hid-keyboard", "/dev/hidg0", "keyboard gadget character device")
	hidMouse := flag.String("hid-mouse", "/dev/hidg1", "mouse gadget character device")
	dbDSN := flag.String("db-dsn", "kvmpipe-stats.db", "statistics persistence DSN (sqlite file path, or postgres://...)")
	captureWidth := flag.Int("capture-width", 1920, "capture/encode frame width; must match the opened device")
	captureHeight := flag.Int("capture-height", 1080, "capture/encode frame height; must match the opened device")
	bitrateKbps := flag.Int("bitrate-kbps", 4000, "target H.264 bitrate in kbps")
	framerate := flag.Int("framerate", 30, "target capture/encode framerate")
	gopSize := flag.Int("gop-size", 60, "encoder keyframe interval in frames")
	turnSecret := flag.String("turn-secret", os.Getenv("TURN_PASS"), "coturn static-auth-secret for TURN credential issuance")
	flag.Parse()

	var devices []capture.DeviceConfig
	if *deviceConfig != "" {
		loaded, err := capture.LoadDeviceConfigs(*deviceConfig)
		if err != nil {
			log.Error("loading capture device config: %v", err)
			os.Exit(1)
		}
		devices = loaded
	}
	captureSource := capture.NewGoCVSource(devices)

	// GoCVSource always converts to RGB24 after decode, regardless of the
	// device's native pixel order (see internal/capture.GoCVSource.readLoop).
	ffmpegEncoder := encoder.NewFFmpegEncoder(*captureWidth, *captureHeight, frame.RGB24)

	store, err := statstore.Open(*dbDSN)
	if err != nil {
		log.Error("opening statistics store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	var keyboardSink *hid.KeyboardSink
	if k, err := hid.OpenKeyboardSink(*hidKeyboard); err != nil {
		log.Warn("keyboard gadget unavailable, input will be dropped: %v", err)
	} else {
		keyboardSink = k
		defer keyboardSink.Close()
	}

	var mouseSink *hid.MouseSink
	if m, err := hid.OpenMouseSink(*hidMouse); err != nil {
		log.Warn("mouse gadget unavailable, input will be dropped: %v", err)
	} else {
		mouseSink = m
		defer mouseSink.Close()
	}

	inputTransport := hid.NewInputTransport(keyboardSink, mouseSink)

	settings := encoder.Settings{Kbps: *bitrateKbps, Framerate: *framerate, GopSize: *gopSize}
	vp := pipeline.New(captureSource, ffmpegEncoder, settings)

	payloader := rtppay.New()

	relayServer, err := relay.NewServer(
		func(data []byte) { inputTransport.ParseReports(hid.UnpackBinaryString(data)) },
		vp.RequestKeyframe,
		nil,
	)
	if err != nil {
		log.Error("starting relay server: %v", err)
		os.Exit(1)
	}
	defer relayServer.Close()

	vp.Initialize(func(frameNumber, shutterUsec uint64, accessUnit []byte) {
		payloader.WrapH264(shutterUsec, accessUnit, func(packetBytes []byte) {
			pkt, err := decodeRTPPacket(packetBytes)
			if err != nil {
				log.Error("decode RTP packet for relay: %v", err)
				return
			}
			if err := relayServer.PushRTP(pkt); err != nil {
				log.Error("relay push failed: %v", err)
			}
		})
	})
	defer vp.Shutdown()

	go persistStatisticsPeriodically(store, vp, 20*time.Second)

	signalServer := signal.NewServer(
		func(offer pionwebrtc.SessionDescription) (*pionwebrtc.SessionDescription, error) {
			return relayServer.HandleOffer(offer)
		},
		*turnSecret,
	)

	mux := http.NewServeMux()
	signalServer.RegisterRoutes(mux)

	log.Info("kvmpipe listening on %s", *httpAddr)
	if err := http.ListenAndServe(*httpAddr, mux); err != nil {
		log.Error("http server exited: %v", err)
		os.Exit(1)
	}
}
