package realtime

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// PlaybackSink receives the remote audio tracks the agent publishes. The
// transport hands over each incoming track exactly once; the sink owns the
// read loop from then on.
type PlaybackSink interface {
	// HandleTrack consumes one remote track until it ends.
	HandleTrack(track *webrtc.TrackRemote)

	// Close releases the sink. Tracks being consumed end shortly after the
	// peer connection closes.
	Close() error
}

// OggFileSink records remote Opus audio into an Ogg file. Non-Opus tracks
// are drained and dropped.
type OggFileSink struct {
	logger *slog.Logger

	mu     sync.Mutex
	writer *oggwriter.OggWriter
	closed bool
}

// NewOggFileSink opens path for writing at the Opus wire rate.
func NewOggFileSink(path string, logger *slog.Logger) (*OggFileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := oggwriter.New(path, 48000, 2)
	if err != nil {
		return nil, err
	}
	return &OggFileSink{logger: logger, writer: w}, nil
}

// HandleTrack copies RTP packets from the track into the file.
func (s *OggFileSink) HandleTrack(track *webrtc.TrackRemote) {
	if track.Codec().MimeType != webrtc.MimeTypeOpus {
		s.logger.Debug("dropping non-opus track", "mime", track.Codec().MimeType)
		go drainTrack(track)
		return
	}

	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.logger.Debug("reading remote track", "error", err)
				}
				return
			}
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			err = s.writer.WriteRTP(pkt)
			s.mu.Unlock()
			if err != nil {
				s.logger.Warn("writing playback packet", "error", err)
				return
			}
		}
	}()
}

// Close finalizes the Ogg file. Idempotent.
func (s *OggFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}

// drainTrack reads and discards packets so the interceptor pipeline keeps
// flowing for tracks nobody records.
func drainTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
