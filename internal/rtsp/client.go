package rtsp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

const maxReconnectDelay = 30 * time.Second

// Feed pulls the tracking camera's RTSP stream and fans its video RTP packets
// out to preview subscribers. Slow subscribers lose packets.
type Feed struct {
	url    *base.URL
	raw    string
	logger *logrus.Logger
	stopCh chan struct{}

	mu      sync.Mutex
	client  *gortsplib.Client
	subs    map[chan []byte]struct{}
	stopped bool

	connected atomic.Bool
	dropped   atomic.Uint64
}

// NewFeed validates rawURL. Nothing is dialled until Start.
func NewFeed(rawURL string, logger *logrus.Logger) (*Feed, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid preview url: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Feed{
		url:    u,
		raw:    rawURL,
		logger: logger,
		stopCh: make(chan struct{}),
		subs:   make(map[chan []byte]struct{}),
	}, nil
}

func (f *Feed) URL() string { return f.raw }

// Connected reports whether the stream is currently playing.
func (f *Feed) Connected() bool { return f.connected.Load() }

// Dropped counts packets not delivered to a full subscriber.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// Start connects and keeps the stream alive, reconnecting with backoff.
func (f *Feed) Start() error {
	if err := f.connect(); err != nil {
		return err
	}
	go f.monitor()
	return nil
}

// Subscribe returns a packet channel and its cancel function.
func (f *Feed) Subscribe(buffer int) (<-chan []byte, func()) {
	ch := make(chan []byte, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
		})
	}
}

func (f *Feed) deliver(packet []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- packet:
		default:
			f.dropped.Add(1)
		}
	}
}

// pickVideo prefers H264/H265 and falls back to the first video media.
func pickVideo(desc *description.Session) (*description.Media, format.Format) {
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			switch forma.(type) {
			case *format.H264, *format.H265:
				return media, forma
			}
		}
	}
	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo && len(media.Formats) > 0 {
			return media, media.Formats[0]
		}
	}
	return nil, nil
}

func (f *Feed) connect() error {
	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		OnDecodeError: func(err error) {
			f.logger.WithError(err).Debug("RTSP decode error")
		},
	}

	if err := client.Start(f.url.Scheme, f.url.Host); err != nil {
		return fmt.Errorf("rtsp start: %w", err)
	}

	desc, _, err := client.Describe(f.url)
	if err != nil {
		client.Close()
		return fmt.Errorf("rtsp describe: %w", err)
	}

	media, forma := pickVideo(desc)
	if media == nil {
		client.Close()
		return fmt.Errorf("rtsp: no video media at %s", f.raw)
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return fmt.Errorf("rtsp setup: %w", err)
	}

	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		f.deliver(buf)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return fmt.Errorf("rtsp play: %w", err)
	}

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		client.Close()
		return fmt.Errorf("rtsp: feed closed")
	}
	f.client = client
	f.mu.Unlock()

	f.connected.Store(true)
	f.logger.WithFields(logrus.Fields{"url": f.raw, "codec": forma.Codec()}).Info("Preview stream playing")
	return nil
}

func (f *Feed) monitor() {
	for {
		f.mu.Lock()
		client := f.client
		f.mu.Unlock()
		if client == nil {
			return
		}

		err := client.Wait()
		f.connected.Store(false)

		select {
		case <-f.stopCh:
			return
		default:
		}
		f.logger.WithError(err).Warn("Preview stream lost")

		if !f.reconnect() {
			return
		}
	}
}

func (f *Feed) reconnect() bool {
	for attempt := 1; ; attempt++ {
		delay := min(time.Duration(1<<uint(min(attempt-1, 5)))*time.Second, maxReconnectDelay)
		f.logger.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Info("Preview reconnect scheduled")

		select {
		case <-f.stopCh:
			return false
		case <-time.After(delay):
		}

		if err := f.connect(); err != nil {
			f.logger.WithError(err).Warn("Preview reconnect failed")
			continue
		}
		return true
	}
}

// Close stops the stream and closes every subscriber channel.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	client := f.client
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()

	close(f.stopCh)
	if client != nil {
		client.Close()
	}
	f.connected.Store(false)
	return nil
}
