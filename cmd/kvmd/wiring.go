package main

import (
	"time"

	"github.com/pion/rtp"

	"github.com/kvmpipe/kvmpipe/internal/pipeline"
	"github.com/kvmpipe/kvmpipe/internal/statstore"
)

// decodeRTPPacket unmarshals one of internal/rtppay's hand-rolled RTP
// datagrams into a pion/rtp.Packet so it can be written to a
// webrtc.TrackLocalStaticRTP by internal/relay.
func decodeRTPPacket(raw []byte) (*rtp.Packet, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, err
	}
	return pkt, nil
}

// persistStatisticsPeriodically mirrors the pipeline's own 20s reporting
// window by writing a Report row to store on the same cadence, until vp
// reaches Shutdown.
func persistStatisticsPeriodically(store *statstore.Store, vp *pipeline.VideoPipeline, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for range ticker.C {
		if vp.State() == "Shutdown" {
			return
		}
		snap := vp.Stats()
		if snap.InputFrames == 0 {
			continue
		}
		if err := store.Persist(snap, time.Now()); err != nil {
			log.Error("persisting statistics: %v", err)
		}
	}
}
