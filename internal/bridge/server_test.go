package bridge

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/qubesos/qubes-appmenu/internal/display"
	"github.com/qubesos/qubes-appmenu/internal/menu"
)

type fakeMenu struct {
	model   display.Model
	intents chan menu.Intent
}

func newFakeMenu() *fakeMenu {
	return &fakeMenu{
		model: display.Model{Groups: []display.Group{{
			ID:      "work",
			Title:   "work",
			Entries: []display.Entry{{Qube: "work", App: "firefox", Name: "Firefox"}},
		}}},
		intents: make(chan menu.Intent, 16),
	}
}

func (f *fakeMenu) Model() display.Model { return f.model }

func (f *fakeMenu) Submit(ctx context.Context, in menu.Intent) error {
	f.intents <- in
	return nil
}

func startBridge(t *testing.T, opts Options) (*Server, *fakeMenu, string) {
	t.Helper()
	fm := newFakeMenu()
	opts.AllowAnyPeer = true
	s := New(fm, opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, fm, "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/menu"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var m message
	if err := wsjson.Read(ctx, conn, &m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestConnectReceivesModel(t *testing.T) {
	_, fm, url := startBridge(t, Options{})
	conn := dial(t, url)

	m := readMessage(t, conn)
	if m.Type != typeModel || m.Model == nil {
		t.Fatalf("first message = %+v, want model", m)
	}
	if diff := cmp.Diff(fm.model, *m.Model); diff != "" {
		t.Errorf("model mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestsBecomeIntents(t *testing.T) {
	_, fm, url := startBridge(t, Options{})
	conn := dial(t, url)
	readMessage(t, conn)

	ctx := context.Background()
	reqs := []request{
		{Type: "launch", Qube: "work", App: "firefox"},
		{Type: "cancel-launch", Ticket: "t-1"},
		{Type: "toggle-favorite", Qube: "work", App: "xterm"},
		{Type: "search", Text: "fire"},
		{Type: "resync"},
	}
	for _, r := range reqs {
		if err := wsjson.Write(ctx, conn, r); err != nil {
			t.Fatal(err)
		}
	}

	want := []menu.Intent{
		menu.LaunchIntent{Qube: "work", App: "firefox"},
		menu.CancelLaunchIntent{Ticket: "t-1"},
		menu.ToggleFavoriteIntent{Qube: "work", App: "xterm"},
		menu.SearchIntent{Text: "fire"},
		menu.ResyncIntent{},
	}
	var got []menu.Intent
	for range want {
		select {
		case in := <-fm.intents:
			got = append(got, in)
		case <-time.After(5 * time.Second):
			t.Fatalf("got %d intents, want %d", len(got), len(want))
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("intents mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidRequestGetsError(t *testing.T) {
	_, fm, url := startBridge(t, Options{})
	conn := dial(t, url)
	readMessage(t, conn)

	tests := []request{
		{Type: "bogus"},
		{Type: "launch", Qube: "work"},
		{Type: "cancel-launch"},
	}
	for _, r := range tests {
		if err := wsjson.Write(context.Background(), conn, r); err != nil {
			t.Fatal(err)
		}
		m := readMessage(t, conn)
		if m.Type != typeError || m.Error == "" {
			t.Errorf("%+v: reply = %+v, want error", r, m)
		}
	}
	select {
	case in := <-fm.intents:
		t.Errorf("unexpected intent %#v", in)
	default:
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	s, _, url := startBridge(t, Options{})
	a, b := dial(t, url), dial(t, url)
	readMessage(t, a)
	readMessage(t, b)

	s.PublishDiff(display.ModelDiff{Removed: []string{"work"}})
	s.Notify(menu.Notification{Severity: menu.SeverityWarning, Message: "Lost connection to qubesd"})
	s.LaunchStatus(menu.LaunchStatus{Ticket: "t-1", Qube: "work", App: "firefox", Status: "launched"})

	for _, conn := range []*websocket.Conn{a, b} {
		if m := readMessage(t, conn); m.Type != typeDiff || m.Diff == nil || m.Diff.Removed[0] != "work" {
			t.Errorf("diff message = %+v", m)
		}
		if m := readMessage(t, conn); m.Type != typeNotification || m.Notification.Message != "Lost connection to qubesd" {
			t.Errorf("notification message = %+v", m)
		}
		if m := readMessage(t, conn); m.Type != typeLaunchStatus || m.Launch.Status != "launched" {
			t.Errorf("launch message = %+v", m)
		}
	}
}

func TestSearchWithNoResults(t *testing.T) {
	s, _, url := startBridge(t, Options{})
	conn := dial(t, url)
	readMessage(t, conn)

	s.PublishSearch("zzz", nil)
	m := readMessage(t, conn)
	if m.Type != typeSearch || m.Query != "zzz" || len(m.Results) != 0 {
		t.Errorf("search message = %+v", m)
	}
}

func TestSlowClientDropped(t *testing.T) {
	s := New(newFakeMenu(), Options{SendBuffer: 1})
	c := newClient(nil, 1)
	s.register(c)
	if s.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", s.ClientCount())
	}

	// The buffer holds the initial model; the next message overflows it.
	s.PublishDiff(display.ModelDiff{Removed: []string{"work"}})
	if s.ClientCount() != 0 {
		t.Errorf("clients = %d, want slow client dropped", s.ClientCount())
	}
	select {
	case <-c.done:
	default:
		t.Error("slow client not stopped")
	}
}

func TestPeerCheckRejectsUnknownPeer(t *testing.T) {
	s := New(newFakeMenu(), Options{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/model")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestServeOnUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "bridge")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "menu.sock")

	s := New(newFakeMenu(), Options{Socket: sock})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	httpc := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", sock)
		},
	}}

	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err = httpc.Get("http://menu/v1/model")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 for a same-user peer", resp.StatusCode)
	}

	info, err := os.Stat(sock)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Serve returned %v", err)
	}
}
