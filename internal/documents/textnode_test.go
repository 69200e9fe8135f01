package documents

import (
	"context"
	"encoding/json"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/merge"
	"github.com/javanhut/evees/internal/remote"
	"github.com/javanhut/evees/internal/workspace"
)

type fixture struct {
	ctx    context.Context
	client *evees.Client
	local  evees.Remote
	shared evees.Remote
	merger *merge.Merger
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	local := remote.NewMemoryRemote("local", "alice", nil)
	shared := remote.NewMemoryRemote("shared", "bob", nil)
	for _, r := range []evees.Remote{local, shared} {
		if err := r.Login(ctx); err != nil {
			t.Fatalf("Login failed: %v", err)
		}
	}
	client := evees.NewClient(evees.NewRemoteRegistry(local, shared))
	var clock atomic.Uint64
	client.Now = func() uint64 { return clock.Add(1) }
	return &fixture{
		ctx:    ctx,
		client: client,
		local:  local,
		shared: shared,
		merger: merge.NewMerger(merge.NewRegistry(Behaviour{})),
	}
}

func (f *fixture) node(t *testing.T, r evees.Remote, tag string, n TextNode) string {
	t.Helper()
	id, err := f.client.CreatePerspective(f.ctx, r, evees.CreateOptions{Context: tag})
	if err != nil {
		t.Fatalf("CreatePerspective failed: %v", err)
	}
	f.commit(t, id, n)
	return id
}

func (f *fixture) commit(t *testing.T, pid string, n TextNode) {
	t.Helper()
	if _, err := f.client.CreateCommit(f.ctx, pid, n, ""); err != nil {
		t.Fatalf("CreateCommit failed: %v", err)
	}
}

func (f *fixture) read(t *testing.T, pid string) TextNode {
	t.Helper()
	d, err := f.client.GetPerspectiveDetails(f.ctx, pid)
	if err != nil {
		t.Fatalf("GetPerspectiveDetails failed: %v", err)
	}
	data, err := f.client.GetCommitData(f.ctx, d.Head())
	if err != nil {
		t.Fatalf("GetCommitData failed: %v", err)
	}
	var n TextNode
	if err := json.Unmarshal(data.Object, &n); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return n
}

func (f *fixture) fork(t *testing.T, source string, r evees.Remote) string {
	t.Helper()
	id, err := f.client.ForkPerspective(f.ctx, source, r, "")
	if err != nil {
		t.Fatalf("ForkPerspective failed: %v", err)
	}
	return id
}

func (f *fixture) mergeAndExecute(t *testing.T, to, from string, cfg merge.Config) *workspace.Workspace {
	t.Helper()
	ws := workspace.New(f.client)
	if err := f.merger.MergePerspectives(f.ctx, to, from, ws, cfg); err != nil {
		t.Fatalf("MergePerspectives failed: %v", err)
	}
	if err := ws.Execute(f.ctx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return ws
}

func TestRecognize(t *testing.T) {
	b := Behaviour{}
	if !b.Recognize(json.RawMessage(`{"text":"a","type":"Paragraph","links":[]}`)) {
		t.Error("expected text node to be recognized")
	}
	if b.Recognize(json.RawMessage(`{"title":"a","pages":[]}`)) {
		t.Error("expected wiki not to be recognized")
	}
	if b.Recognize(json.RawMessage(`"text"`)) {
		t.Error("expected scalar not to be recognized")
	}
}

func TestMergeTextAndType(t *testing.T) {
	f := setup(t)
	a := f.node(t, f.local, "doc", NewParagraph("hello"))
	b := f.fork(t, a, f.local)
	f.commit(t, b, NewTitle("hello"))
	f.commit(t, a, NewParagraph("hello world"))

	f.mergeAndExecute(t, a, b, merge.Config{})

	got := f.read(t, a)
	if got.Text != "hello world" || got.Type != Title {
		t.Errorf("expected text from a and type from b, got %+v", got)
	}
}

func TestMergeRecursesIntoCounterpartChildren(t *testing.T) {
	f := setup(t)
	child := f.node(t, f.local, "child-ctx", NewParagraph("child"))
	a := f.node(t, f.local, "doc", NewTitle("root", child))

	b := f.fork(t, a, f.local)
	childFork := f.fork(t, child, f.local)
	f.commit(t, childFork, NewParagraph("child edited"))
	f.commit(t, b, NewTitle("root", childFork))

	ws := f.mergeAndExecute(t, a, b, merge.Config{})

	updated := make(map[string]bool)
	for _, u := range ws.GetUpdates() {
		updated[u.PerspectiveID] = true
	}
	if !updated[child] {
		t.Error("expected the child perspective to be updated")
	}
	if updated[a] {
		t.Error("expected the root to keep its content since links map to the same child")
	}

	if got := f.read(t, child); got.Text != "child edited" {
		t.Errorf("expected child edit to be merged, got %q", got.Text)
	}
	if got := f.read(t, a); !reflect.DeepEqual(got.Links, []string{child}) {
		t.Errorf("expected root to keep linking %s, got %v", child, got.Links)
	}
}

func TestMergeAddsNewChildren(t *testing.T) {
	f := setup(t)
	first := f.node(t, f.local, "first-ctx", NewParagraph("first"))
	a := f.node(t, f.local, "doc", NewTitle("root", first))
	b := f.fork(t, a, f.local)

	second := f.node(t, f.local, "second-ctx", NewParagraph("second"))
	f.commit(t, b, NewTitle("root", first, second))

	f.mergeAndExecute(t, a, b, merge.Config{})

	if got := f.read(t, a); !reflect.DeepEqual(got.Links, []string{first, second}) {
		t.Errorf("expected links [%s %s], got %v", first, second, got.Links)
	}
}

func TestForceOwnerForksForeignChildren(t *testing.T) {
	f := setup(t)
	a := f.node(t, f.local, "doc", NewTitle("root"))

	b := f.fork(t, a, f.shared)
	foreign := f.node(t, f.shared, "foreign-ctx", NewParagraph("from bob"))
	f.commit(t, b, NewTitle("root", foreign))

	foreignDetails, err := f.client.GetPerspectiveDetails(f.ctx, foreign)
	if err != nil {
		t.Fatalf("GetPerspectiveDetails failed: %v", err)
	}

	ws := f.mergeAndExecute(t, a, b, merge.Config{ForceOwner: true})

	forks := ws.GetNewPerspectives()
	if len(forks) != 1 {
		t.Fatalf("expected one forked child, got %d", len(forks))
	}
	forkID := forks[0].Perspective.ID

	root := f.read(t, a)
	if !reflect.DeepEqual(root.Links, []string{forkID}) {
		t.Fatalf("expected root to link the fork %s, got %v", forkID, root.Links)
	}

	ok, err := f.local.CanWrite(f.ctx, forkID)
	if err != nil || !ok {
		t.Errorf("expected fork to be writable by alice, got %v %v", ok, err)
	}
	details, err := f.local.GetPerspective(f.ctx, forkID)
	if err != nil {
		t.Fatalf("GetPerspective failed: %v", err)
	}
	if details.Head() != foreignDetails.Head() || details.ContextValue() != "foreign-ctx" {
		t.Errorf("expected fork at foreign head in foreign context, got %+v", details)
	}
}

func TestWithoutForceOwnerKeepsForeignLinks(t *testing.T) {
	f := setup(t)
	a := f.node(t, f.local, "doc", NewTitle("root"))
	b := f.fork(t, a, f.shared)
	foreign := f.node(t, f.shared, "foreign-ctx", NewParagraph("from bob"))
	f.commit(t, b, NewTitle("root", foreign))

	ws := f.mergeAndExecute(t, a, b, merge.Config{})
	if n := len(ws.GetNewPerspectives()); n != 0 {
		t.Errorf("expected no forks, got %d", n)
	}
	if got := f.read(t, a); !reflect.DeepEqual(got.Links, []string{foreign}) {
		t.Errorf("expected root to link %s, got %v", foreign, got.Links)
	}
}
