package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	core "github.com/chidolingo/voicelink/pkg/core"
)

// DefaultICEServers are used when the config names none.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// TransportConfig configures a Transport. Zero values fall back to the
// package defaults.
type TransportConfig struct {
	// HTTPClient performs the SDP exchange; nil means http.DefaultClient.
	HTTPClient *http.Client

	// BaseURL is the negotiation endpoint, without the model query.
	BaseURL string

	// Model is appended to BaseURL as the model query parameter.
	Model string

	// ICEServers are STUN/TURN URLs for the peer connection.
	ICEServers []string

	// ChannelLabel names the event data channel.
	ChannelLabel string

	// Capture supplies local audio; nil publishes nothing and negotiates a
	// receive-only audio section instead.
	Capture Capture

	// Sink receives remote audio tracks; nil drains them.
	Sink PlaybackSink

	Logger *slog.Logger
}

// Transport owns one WebRTC connection to the voice agent: media tracks
// plus an ordered data channel carrying JSON events both ways.
type Transport struct {
	cfg    TransportConfig
	logger *slog.Logger

	closed atomic.Bool

	mu             sync.Mutex
	pc             *webrtc.PeerConnection
	dc             *webrtc.DataChannel
	handlers       []func(ServerEvent)
	onDisconnect   func()
	disconnectOnce *sync.Once
}

// NewTransport creates a disconnected transport.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ICEServers == nil {
		cfg.ICEServers = DefaultICEServers
	}
	if cfg.ChannelLabel == "" {
		cfg.ChannelLabel = DefaultChannelLabel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{cfg: cfg, logger: logger}
}

// OnMessage registers an additional handler for decoded inbound events.
// Handlers run on the data channel's delivery goroutine, in registration
// order.
func (t *Transport) OnMessage(fn func(ServerEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, fn)
}

// OnDisconnect registers the handler invoked once when the connection ends
// for a reason other than an explicit Disconnect. Last registration wins.
func (t *Transport) OnDisconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

// Connect performs the offer/answer exchange and opens the event channel.
// On any failure everything allocated so far is released, so a failed
// Connect may be retried.
func (t *Transport) Connect(ctx context.Context, credential, instructions string) error {
	if credential == "" {
		return core.NewConfigurationError("missing agent credential")
	}

	t.mu.Lock()
	if t.pc != nil {
		t.mu.Unlock()
		return core.NewTransportFailure("already connected", nil)
	}
	t.closed.Store(false)
	t.disconnectOnce = &sync.Once{}
	t.mu.Unlock()

	var tracks []webrtc.TrackLocal
	if t.cfg.Capture != nil {
		var err error
		tracks, err = t.cfg.Capture.OpenTracks()
		if err != nil {
			return core.NewMediaAccessError("opening capture tracks", err)
		}
	}

	iceServers := make([]webrtc.ICEServer, 0, len(t.cfg.ICEServers))
	for _, u := range t.cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		t.stopCapture()
		return core.NewTransportFailure("creating peer connection", err)
	}

	fail := func(err error) error {
		pc.Close()
		t.stopCapture()
		t.mu.Lock()
		t.pc = nil
		t.dc = nil
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.pc = pc
	t.mu.Unlock()

	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			return fail(core.NewTransportFailure("adding local track", err))
		}
	}
	if len(tracks) == 0 {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fail(core.NewTransportFailure("adding audio transceiver", err))
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.logger.Debug("remote track", "id", track.ID(), "mime", track.Codec().MimeType)
		if t.cfg.Sink != nil {
			t.cfg.Sink.HandleTrack(track)
			return
		}
		go drainTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if t.cfg.Capture != nil {
				t.cfg.Capture.Start()
			}
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			t.handleTerminal()
		}
	})

	ordered := true
	dc, err := pc.CreateDataChannel(t.cfg.ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fail(core.NewTransportFailure("creating data channel", err))
	}

	var sessionOnce sync.Once
	dc.OnOpen(func() {
		sessionOnce.Do(func() {
			update := NewSessionUpdate(instructions)
			data, err := json.Marshal(update)
			if err != nil {
				t.logger.Warn("encoding session update", "error", err)
				return
			}
			if err := dc.SendText(string(data)); err != nil {
				t.logger.Warn("sending session update", "error", err)
				return
			}
			t.logger.Info("event channel open, session configured")
		})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ev, err := DecodeServerEvent(msg.Data)
		if err != nil {
			t.logger.Warn("undecodable inbound event", "error", err)
			return
		}
		t.mu.Lock()
		handlers := make([]func(ServerEvent), len(t.handlers))
		copy(handlers, t.handlers)
		t.mu.Unlock()
		for _, fn := range handlers {
			fn(ev)
		}
	})

	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(core.NewTransportFailure("creating offer", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(core.NewTransportFailure("applying local description", err))
	}

	// Non-trickle: ship a complete candidate set in one offer.
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		return fail(core.NewTransportFailure("candidate gathering interrupted", ctx.Err()))
	}

	answerSDP, err := t.exchangeSDP(ctx, credential, pc.LocalDescription().SDP)
	if err != nil {
		return fail(err)
	}

	if t.closed.Load() {
		return fail(core.NewTransportFailure("disconnected during negotiation", nil))
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fail(core.NewTransportFailure("applying remote description", err))
	}

	t.logger.Info("negotiation complete", "model", t.cfg.Model)
	return nil
}

// exchangeSDP posts the local offer and returns the remote answer.
func (t *Transport) exchangeSDP(ctx context.Context, credential, offerSDP string) (string, error) {
	endpoint := fmt.Sprintf("%s?model=%s", t.cfg.BaseURL, url.QueryEscape(t.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", core.NewTransportFailure("building negotiation request", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", core.NewTransportFailure("posting offer", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", core.NewTransportFailure("reading negotiation response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", core.NewNegotiationError(resp.StatusCode, string(body))
	}
	return string(body), nil
}

// Send marshals v and writes it to the event channel. Messages sent before
// the channel opens or after it closes are dropped with a warning, not an
// error, because the disconnect path already reports the cause.
func (t *Transport) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return core.NewProtocolError("encoding outbound event", err)
	}

	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		t.logger.Warn("dropping outbound event, channel not open")
		return nil
	}
	return dc.SendText(string(data))
}

// IsReady reports whether the event channel is open for sending.
func (t *Transport) IsReady() bool {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Disconnect tears the connection down. Safe to call at any time, any
// number of times, including concurrently with Connect.
func (t *Transport) Disconnect() {
	if t.closed.Swap(true) {
		return
	}

	t.mu.Lock()
	pc := t.pc
	t.pc = nil
	t.dc = nil
	t.mu.Unlock()

	t.stopCapture()
	if pc != nil {
		if err := pc.Close(); err != nil {
			t.logger.Debug("closing peer connection", "error", err)
		}
	}
	t.closeSink()
	t.logger.Info("disconnected")
}

func (t *Transport) stopCapture() {
	if t.cfg.Capture != nil {
		t.cfg.Capture.Stop()
	}
}

func (t *Transport) closeSink() {
	if t.cfg.Sink == nil {
		return
	}
	if err := t.cfg.Sink.Close(); err != nil {
		t.logger.Debug("closing playback sink", "error", err)
	}
}

// handleTerminal runs when the peer connection reaches a terminal state on
// its own. The registered disconnect handler fires at most once per
// connection and never for an explicit Disconnect.
func (t *Transport) handleTerminal() {
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	once := t.disconnectOnce
	fn := t.onDisconnect
	t.mu.Unlock()
	if once == nil {
		return
	}

	once.Do(func() {
		t.stopCapture()
		t.closeSink()
		t.logger.Warn("connection lost")
		if fn != nil {
			fn()
		}
	})
}
