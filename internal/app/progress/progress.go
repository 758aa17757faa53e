package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Config selects whether bars are drawn and where.
type Config struct {
	Enabled bool
	Writer  io.Writer
}

// Manager owns the mpb container. A disabled manager hands out no-op bars.
type Manager struct {
	container *mpb.Progress
	enabled   bool
	mu        sync.Mutex
}

// Bar tracks files done out of a batch.
type Bar struct {
	bar     *mpb.Bar
	enabled bool
}

func NewManager(config Config) *Manager {
	if !config.Enabled {
		return &Manager{enabled: false}
	}

	writer := config.Writer
	if writer == nil {
		writer = os.Stderr
	}

	return &Manager{
		container: mpb.New(
			mpb.WithOutput(writer),
			mpb.WithRefreshRate(120*time.Millisecond),
		),
		enabled: true,
	}
}

// FileBar adds a bar counting transcribed files, with the current file name
// shown after the counters.
func (m *Manager) FileBar(total int, description string) *Bar {
	if !m.enabled || m.container == nil {
		return &Bar{enabled: false}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bar := m.container.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(description+" ", decor.WC{W: len(description) + 1, C: decor.DindentRight}),
			decor.CountersNoUnit("(%d/%d)", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
			decor.OnComplete(decor.Name(""), " ✓"),
		),
	)

	return &Bar{bar: bar, enabled: true}
}

func (b *Bar) Increment() {
	if b.enabled && b.bar != nil {
		b.bar.Increment()
	}
}

// Abort stops the bar early, leaving it on screen.
func (b *Bar) Abort() {
	if b.enabled && b.bar != nil {
		b.bar.Abort(false)
	}
}

func (m *Manager) Wait() {
	if m.enabled && m.container != nil {
		m.container.Wait()
	}
}

func IsTTY(writer io.Writer) bool {
	if writer == nil {
		return false
	}

	if file, ok := writer.(*os.File); ok {
		stat, err := file.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// ShouldShow reports whether bars should be drawn on stderr.
func ShouldShow(forced bool) bool {
	return forced || IsTTY(os.Stderr)
}
