package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/muesli/termenv"

	"github.com/qubesos/qubes-appmenu/internal/display"
	"github.com/qubesos/qubes-appmenu/internal/launch"
	"github.com/qubesos/qubes-appmenu/internal/menu"
)

// Terminal is a menu.Sink that echoes notifications and launch outcomes to
// a console. Model updates are summarized, search results are ignored.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	styles Styles
	now    func() time.Time
}

var _ menu.Sink = (*Terminal)(nil)

// NewTerminal writes to w using the given colour profile.
func NewTerminal(w io.Writer, profile termenv.Profile) *Terminal {
	return &Terminal{
		w:      w,
		styles: NewStyles(NewRenderer(w, profile)),
		now:    time.Now,
	}
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s %s\n", t.styles.Dim.Render(t.now().Format("15:04:05")), fmt.Sprintf(format, args...))
}

func (t *Terminal) PublishModel(m display.Model) {
	apps := 0
	for _, g := range m.Groups {
		if g.ID != display.FavoritesGroup {
			apps += len(g.Entries)
		}
	}
	t.printf("%s %d groups, %d applications", t.styles.Cyan.Render("menu"), len(m.Groups), apps)
}

func (t *Terminal) PublishDiff(display.ModelDiff) {}

func (t *Terminal) PublishSearch(string, []display.SearchResult) {}

func (t *Terminal) Notify(n menu.Notification) {
	var label string
	switch n.Severity {
	case menu.SeverityError:
		label = t.styles.Red.Render("error")
	case menu.SeverityWarning:
		label = t.styles.Yellow.Render("warning")
	default:
		label = t.styles.White.Render("info")
	}
	t.printf("%s %s", label, n.Message)
}

func (t *Terminal) LaunchStatus(st menu.LaunchStatus) {
	target := st.Qube + ":" + st.App
	switch launch.Result(st.Status) {
	case launch.Launched:
		t.printf("%s %s", t.styles.Green.Render("launched"), target)
	case launch.Failed, launch.TimedOut:
		t.printf("%s %s: %s", t.styles.Red.Render(st.Status), target, st.Error)
	case launch.Cancelled:
		t.printf("%s %s", t.styles.Dim.Render("cancelled"), target)
	default:
		if st.Status == string(launch.StatusRejected) {
			t.printf("%s %s: %s", t.styles.Yellow.Render("rejected"), target, st.Error)
		}
	}
}
