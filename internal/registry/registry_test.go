package registry

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

func work() qube.Qube {
	return qube.Qube{Name: "work", Kind: qube.KindTemplateBased, State: qube.StateHalted, Exposure: qube.ExposureViaProxy}
}

func app(qubeName, id, name string) qube.Application {
	return qube.Application{ID: qube.AppID{Qube: qubeName, App: id}, DisplayName: name}
}

func TestUpsertQubeUpdatesInPlace(t *testing.T) {
	r := New()
	if d := r.UpsertQube(work()); len(d.AddedQubes) != 1 {
		t.Fatalf("first upsert diff = %+v, want one added qube", d)
	}
	if d := r.UpsertQube(work()); !d.Empty() {
		t.Errorf("identical upsert diff = %+v, want empty", d)
	}
	q := work()
	q.State = qube.StateRunning
	if d := r.UpsertQube(q); len(d.UpdatedQubes) != 1 {
		t.Errorf("changed upsert diff = %+v, want one updated qube", d)
	}
	if got := len(r.Snapshot().Qubes); got != 1 {
		t.Errorf("snapshot has %d qubes, want 1", got)
	}
}

func TestUpsertApplicationsUnknownQube(t *testing.T) {
	r := New()
	_, err := r.UpsertApplications("ghost", []qube.Application{app("ghost", "x", "X")})
	if !errors.Is(err, qube.ErrUnknownEntity) {
		t.Fatalf("err = %v, want ErrUnknownEntity", err)
	}
}

func TestUpsertApplicationsFullReplace(t *testing.T) {
	r := New()
	r.UpsertQube(work())
	if _, err := r.UpsertApplications("work", []qube.Application{app("work", "a", "A"), app("work", "b", "B")}); err != nil {
		t.Fatal(err)
	}
	d, err := r.UpsertApplications("work", []qube.Application{app("work", "b", "B"), app("work", "c", "C")})
	if err != nil {
		t.Fatal(err)
	}
	want := Diff{
		AddedApps:   []qube.Application{app("work", "c", "C")},
		RemovedApps: []qube.AppID{{Qube: "work", App: "a"}},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("diff mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveQubeCascades(t *testing.T) {
	r := New()
	r.UpsertQube(work())
	r.UpsertApplications("work", []qube.Application{app("work", "a", "A")})
	r.SetFavorite(qube.AppID{Qube: "work", App: "a"}, true)

	d := r.RemoveQube("work")
	if len(d.RemovedQubes) != 1 || len(d.RemovedApps) != 1 {
		t.Fatalf("remove diff = %+v", d)
	}
	if apps := r.Applications("work"); len(apps) != 0 {
		t.Errorf("applications after remove = %v, want none", apps)
	}
	if d := r.RemoveQube("work"); !d.Empty() {
		t.Errorf("second remove diff = %+v, want empty", d)
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	r := New()
	r.UpsertQube(work())
	r.UpsertApplications("work", []qube.Application{app("work", "a", "A")})

	snap := r.Snapshot()
	snap.Qubes[0].State = qube.StateRunning
	snap.Apps["work"][0].Favorite = true

	again := r.Snapshot()
	if again.Qubes[0].State != qube.StateHalted {
		t.Error("mutating a snapshot leaked into the registry qubes")
	}
	if again.Apps["work"][0].Favorite {
		t.Error("mutating a snapshot leaked into the registry applications")
	}
}

func TestSnapshotLookup(t *testing.T) {
	r := New()
	r.UpsertQube(qube.Qube{Name: "a"})
	r.UpsertQube(work())
	r.UpsertApplications("work", []qube.Application{app("work", "b", "B"), app("work", "a", "A")})

	snap := r.Snapshot()
	if _, ok := snap.Qube("work"); !ok {
		t.Error("snapshot.Qube(work) not found")
	}
	if _, ok := snap.Qube("missing"); ok {
		t.Error("snapshot.Qube(missing) found")
	}
	if _, ok := snap.Application(qube.AppID{Qube: "work", App: "b"}); !ok {
		t.Error("snapshot.Application(work:b) not found")
	}
}

func TestSetFavoriteNoOp(t *testing.T) {
	r := New()
	r.UpsertQube(work())
	r.UpsertApplications("work", []qube.Application{app("work", "a", "A")})
	id := qube.AppID{Qube: "work", App: "a"}

	if d, _ := r.SetFavorite(id, false); !d.Empty() {
		t.Errorf("no-op SetFavorite diff = %+v", d)
	}
	if d, _ := r.SetFavorite(id, true); len(d.UpdatedApps) != 1 {
		t.Errorf("SetFavorite diff = %+v, want one updated app", d)
	}
	if _, err := r.SetFavorite(qube.AppID{Qube: "work", App: "zz"}, true); !errors.Is(err, qube.ErrUnknownEntity) {
		t.Errorf("SetFavorite on unknown app err = %v", err)
	}
}

func TestDiffTouched(t *testing.T) {
	d := Diff{
		AddedQubes:  []qube.Qube{{Name: "b"}},
		RemovedApps: []qube.AppID{{Qube: "a", App: "x"}},
		UpdatedApps: []qube.Application{app("b", "y", "Y")},
	}
	if diff := cmp.Diff([]string{"a", "b"}, d.Touched()); diff != "" {
		t.Errorf("Touched mismatch (-want +got):\n%s", diff)
	}
}
