package relay

import "testing"

func TestNewServerDefaults(t *testing.T) {
	s, err := NewServer(nil, nil, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if s.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", s.SubscriberCount())
	}
	if len(s.iceServers) == 0 {
		t.Fatal("expected default STUN server to be populated")
	}
}

func TestNewRelayAPI(t *testing.T) {
	api, err := newRelayAPI()
	if err != nil {
		t.Fatalf("newRelayAPI: %v", err)
	}
	if api == nil {
		t.Fatal("newRelayAPI returned nil api")
	}
}
