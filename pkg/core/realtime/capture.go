package realtime

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// Capture supplies the local audio published to the agent. Tracks must be
// available before negotiation; feeding starts only once the connection is
// up.
type Capture interface {
	// OpenTracks prepares the local tracks. Failures surface as media
	// access errors before any negotiation happens.
	OpenTracks() ([]webrtc.TrackLocal, error)

	// Start begins feeding media into the opened tracks.
	Start()

	// Stop halts capture and releases the underlying source.
	Stop()
}

// OggCapture feeds an Ogg/Opus stream into a single local track, paced by
// the page granule positions. The source is typically a file or the stdout
// of an encoder subprocess; pages pass through untouched.
type OggCapture struct {
	src    io.ReadCloser
	logger *slog.Logger

	track *webrtc.TrackLocalStaticSample

	stopOnce sync.Once
	stop     chan struct{}
}

// NewOggCapture wraps src, which must produce a well-formed Ogg/Opus
// stream. The capture takes ownership of src and closes it on Stop.
func NewOggCapture(src io.ReadCloser, logger *slog.Logger) *OggCapture {
	if logger == nil {
		logger = slog.Default()
	}
	return &OggCapture{
		src:    src,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// OpenTracks creates the Opus track the peer connection will publish.
func (c *OggCapture) OpenTracks() ([]webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "voicelink")
	if err != nil {
		return nil, err
	}
	c.track = track
	return []webrtc.TrackLocal{track}, nil
}

// Start launches the feeder goroutine. OpenTracks must have succeeded.
func (c *OggCapture) Start() {
	go c.feed()
}

// Stop halts the feeder and closes the source. Safe to call more than once.
func (c *OggCapture) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if err := c.src.Close(); err != nil {
			c.logger.Debug("closing capture source", "error", err)
		}
	})
}

func (c *OggCapture) feed() {
	ogg, _, err := oggreader.NewWith(c.src)
	if err != nil {
		c.logger.Warn("capture source is not a readable ogg stream", "error", err)
		return
	}

	// Granule positions are in 48kHz samples; deltas between pages give
	// each page's wall-clock duration.
	var lastGranule uint64
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			c.logger.Debug("capture source drained")
			return
		}
		if err != nil {
			c.logger.Warn("reading capture page", "error", err)
			return
		}

		sampleCount := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration(sampleCount) * time.Second / 48000

		if err := c.track.WriteSample(media.Sample{Data: pageData, Duration: duration}); err != nil {
			c.logger.Warn("writing capture sample", "error", err)
			return
		}

		select {
		case <-c.stop:
			return
		case <-time.After(duration):
		}
	}
}
