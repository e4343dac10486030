package automation

import (
	"context"
	"sync"

	"taskingbot-bridge/internal/dom"
	"taskingbot-bridge/internal/pagelog"
)

// Event is one synthetic DOM event dispatched onto a live element.
type Event struct {
	// Kind selects the event constructor: pointer, mouse, focus, keyboard,
	// input or event.
	Kind    string
	Name    string
	Key     string
	Bubbles bool
}

// File is an in-memory upload payload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// PageInfo describes the page an action ran against.
type PageInfo struct {
	TabID   string  `json:"tabId,omitempty"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}

// Page is the live page contract the executor drives. Element arguments are
// refs from the most recent snapshot.
type Page interface {
	dom.Source
	dom.Stamper

	Info(ctx context.Context) (PageInfo, error)
	Dispatch(ctx context.Context, ref int, ev Event) error
	// Call invokes a no-argument element method: focus, blur, click,
	// scrollIntoView, requestSubmit, submit, or enable (which clears
	// disabled and aria-disabled).
	Call(ctx context.Context, ref int, method string) error
	// SetValue assigns through the prototype's native value setter.
	SetValue(ctx context.Context, ref int, value string) error
	SetChecked(ctx context.Context, ref int, checked bool) error
	// SelectOption selects the option at index of a select element and fires
	// input and change.
	SelectOption(ctx context.Context, ref int, index int) error
	SetFiles(ctx context.Context, ref int, files []File) error
	ScrollBy(ctx context.Context, dx, dy float64) error
	// ScrollTo jumps to "top" or "bottom".
	ScrollTo(ctx context.Context, position string) error
	Navigate(ctx context.Context, url string) error
	// Screenshot captures the viewport (or the full page) as JPEG, scaled down
	// to maxWidth.
	Screenshot(ctx context.Context, maxWidth int, fullPage bool) ([]byte, error)
	Logs() *pagelog.Buffer
}

// TabOpener opens pages in new tabs and closes them again by tab id.
type TabOpener interface {
	OpenTab(ctx context.Context, url string) (Page, PageInfo, error)
	CloseTab(id string) error
}

// Exclusive is implemented by pages that admit one batch at a time.
type Exclusive interface {
	Acquire(ctx context.Context) error
	Release()
}

// Turn is a single-slot semaphore satisfying Exclusive. The zero value is
// ready to use; pages embed it.
type Turn struct {
	once sync.Once
	slot chan struct{}
}

func (t *Turn) init() {
	t.once.Do(func() { t.slot = make(chan struct{}, 1) })
}

// Acquire waits for the slot or for ctx to end.
func (t *Turn) Acquire(ctx context.Context) error {
	t.init()
	select {
	case t.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot taken by Acquire.
func (t *Turn) Release() {
	t.init()
	<-t.slot
}

// ScreenSharer yields a frame from an active screen share. ok is false when
// no share is running.
type ScreenSharer interface {
	ShareFrame(ctx context.Context) (frame []byte, ok bool, err error)
}

// PageFunc yields the page a batch starts on.
type PageFunc func(ctx context.Context) (Page, error)
