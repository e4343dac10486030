package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

// frameMaxAge is how long a screencast frame stays usable as a capture.
const frameMaxAge = 5 * time.Second

// Screencast keeps the latest frame of a CDP screencast. It stands in for a
// user-granted screen share and satisfies automation.ScreenSharer.
type Screencast struct {
	logger   *zap.Logger
	maxWidth int

	mu      sync.Mutex
	tab     *Tab
	cancel  context.CancelFunc
	frame   []byte
	frameAt time.Time
}

func NewScreencast(maxWidth int, logger *zap.Logger) *Screencast {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Screencast{maxWidth: maxWidth, logger: logger.With(zap.String("component", "screencast"))}
}

// Start begins streaming tab. A running cast is stopped first.
func (s *Screencast) Start(ctx context.Context, tab *Tab) error {
	if tab == nil {
		return errors.New("screencast: no tab")
	}
	s.Stop()

	castCtx, cancel := context.WithCancel(ctx)
	page := tab.page.Context(castCtx)
	wait := page.EachEvent(func(ev *proto.PageScreencastFrame) {
		s.mu.Lock()
		s.frame = ev.Data
		s.frameAt = time.Now()
		s.mu.Unlock()
		_ = proto.PageScreencastFrameAck{SessionID: ev.SessionID}.Call(page)
	})

	req := proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       gson.Int(screenshotQuality),
		EveryNthFrame: gson.Int(1),
	}
	if s.maxWidth > 0 {
		req.MaxWidth = gson.Int(s.maxWidth)
	}
	if err := req.Call(page); err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.tab = tab
	s.cancel = cancel
	s.mu.Unlock()
	go wait()
	s.logger.Info("screencast started", zap.String("tab_id", tab.meta.ID))
	return nil
}

// Stop ends the cast and drops the last frame.
func (s *Screencast) Stop() {
	s.mu.Lock()
	tab, cancel := s.tab, s.cancel
	s.tab, s.cancel, s.frame = nil, nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	_ = proto.PageStopScreencast{}.Call(tab.page)
	cancel()
	s.logger.Info("screencast stopped")
}

// Active reports whether a cast is running.
func (s *Screencast) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// ShareFrame returns the most recent frame when a cast is running and the
// frame is fresh.
func (s *Screencast) ShareFrame(_ context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil || len(s.frame) == 0 {
		return nil, false, nil
	}
	if time.Since(s.frameAt) > frameMaxAge {
		return nil, false, errors.New("screencast frame is stale")
	}
	out := make([]byte, len(s.frame))
	copy(out, s.frame)
	return out, true, nil
}
