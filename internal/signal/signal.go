// Package signal runs the HTTP + gorilla/websocket signalling surface a
// browser uses to exchange SDP with internal/relay and fetch short-lived
// TURN credentials, grounded on main.go's handleWebSocket/
// handleTurnCredentials and websocket/websocket.go's Upgrader/Hub shape.
package signal

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/kvmpipe/kvmpipe/internal/klog"
)

var log = klog.New("Signal")

// Upgrader matches websocket/websocket.go's Upgrader. It accepts
// connections from every origin; no origin check is performed.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// offerMessage is the signalling wire format exchanged with the browser:
// "offer" carries a viewer's SDP offer. Messages of any other type are
// logged and ignored.
type offerMessage struct {
	Type  string                         `json:"type"`
	ID    string                         `json:"id,omitempty"`
	Offer *pionwebrtc.SessionDescription `json:"offer,omitempty"`
}

type answerMessage struct {
	Type   string                         `json:"type"`
	ID     string                         `json:"id"`
	Answer *pionwebrtc.SessionDescription `json:"answer"`
}

// OfferHandler answers one subscriber's SDP offer, returning the SDP
// answer to send back. Typically internal/relay.Server.HandleOffer.
type OfferHandler func(offer pionwebrtc.SessionDescription) (*pionwebrtc.SessionDescription, error)

// Server serves the websocket signalling endpoint and the TURN credentials
// endpoint.
type Server struct {
	handleOffer OfferHandler
	turnSecret  string
	turnTTL     int64
}

// NewServer returns a signalling server. turnSecret is the coturn
// static-auth-secret (matches main.go's TURN_PASS env var); pass "" to
// disable the credentials endpoint (handler returns 503).
func NewServer(handleOffer OfferHandler, turnSecret string) *Server {
	return &Server{
		handleOffer: handleOffer,
		turnSecret:  turnSecret,
		turnTTL:     3600,
	}
}

// RegisterRoutes wires /ws and /turn-credentials onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/turn-credentials", s.handleTurnCredentials)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	peerID := uuid.NewString()
	log.Info("signalling peer connected: %s", peerID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Info("signalling peer disconnected: %s (%v)", peerID, err)
			return
		}

		var msg offerMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Error("signalling message unmarshal failed: %v", err)
			continue
		}

		switch msg.Type {
		case "offer":
			if msg.Offer == nil || s.handleOffer == nil {
				continue
			}
			answer, err := s.handleOffer(*msg.Offer)
			if err != nil {
				log.Error("offer handling failed for %s: %v", peerID, err)
				continue
			}
			reply := answerMessage{Type: "answer", ID: peerID, Answer: answer}
			if err := conn.WriteJSON(reply); err != nil {
				log.Error("write answer failed for %s: %v", peerID, err)
				return
			}
		default:
			log.Info("unhandled signalling message type %q from %s", msg.Type, peerID)
		}
	}
}

func (s *Server) handleTurnCredentials(w http.ResponseWriter, r *http.Request) {
	if s.turnSecret == "" {
		http.Error(w, "turn credentials not configured", http.StatusServiceUnavailable)
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		user = "anonymous"
	}

	username, password := GenerateTurnCredentials(s.turnSecret, user, s.turnTTL)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"username": username,
		"password": password,
	})
}

// GenerateTurnCredentials produces a coturn static-auth-secret username and
// password pair valid for ttlSeconds, grounded on main.go's
// generateTurnCredentials (RFC 5389 TURN REST API convention:
// username = "expires:user", password = base64(HMAC-SHA1(secret, username))).
func GenerateTurnCredentials(secret, user string, ttlSeconds int64) (string, string) {
	expires := time.Now().Unix() + ttlSeconds
	username := fmt.Sprintf("%d:%s", expires, user)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return username, password
}
