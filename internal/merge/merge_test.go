package merge

import (
	"context"
	"encoding/json"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/remote"
	"github.com/javanhut/evees/internal/workspace"
)

type fixture struct {
	ctx    context.Context
	client *evees.Client
	local  evees.Remote
	merger *Merger
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	local := remote.NewMemoryRemote("local", "alice", nil)
	if err := local.Login(ctx); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	client := evees.NewClient(evees.NewRemoteRegistry(local))
	var clock atomic.Uint64
	client.Now = func() uint64 { return clock.Add(1) }
	return &fixture{ctx: ctx, client: client, local: local, merger: NewMerger(nil)}
}

func (f *fixture) perspective(t *testing.T, tag string) string {
	t.Helper()
	id, err := f.client.CreatePerspective(f.ctx, f.local, evees.CreateOptions{Context: tag})
	if err != nil {
		t.Fatalf("CreatePerspective failed: %v", err)
	}
	return id
}

func (f *fixture) commit(t *testing.T, pid string, data any) string {
	t.Helper()
	id, err := f.client.CreateCommit(f.ctx, pid, data, "")
	if err != nil {
		t.Fatalf("CreateCommit failed: %v", err)
	}
	return id
}

func (f *fixture) head(t *testing.T, pid string) string {
	t.Helper()
	d, err := f.client.GetPerspectiveDetails(f.ctx, pid)
	if err != nil {
		t.Fatalf("GetPerspectiveDetails failed: %v", err)
	}
	return d.Head()
}

func (f *fixture) merge(t *testing.T, to, from string) *workspace.Workspace {
	t.Helper()
	ws := workspace.New(f.client)
	if err := f.merger.MergePerspectives(f.ctx, to, from, ws, Config{}); err != nil {
		t.Fatalf("MergePerspectives failed: %v", err)
	}
	return ws
}

func dataID(t *testing.T, data any) string {
	t.Helper()
	e, err := cas.Derive(data, cas.DefaultCidConfig)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	return e.ID
}

func pendingHead(t *testing.T, ws *workspace.Workspace, pid string) string {
	t.Helper()
	for _, u := range ws.GetUpdates() {
		if u.PerspectiveID == pid {
			return u.Details.Head()
		}
	}
	t.Fatalf("no pending update for %s", pid)
	return ""
}

func TestMergeIntoSelfIsEmpty(t *testing.T) {
	f := setup(t)
	a := f.perspective(t, "doc")
	f.commit(t, a, map[string]string{"text": "one"})

	ws := f.merge(t, a, a)
	if !ws.IsEmpty() {
		t.Error("expected empty workspace")
	}
	if has, err := ws.HasUpdates(f.ctx); err != nil || has {
		t.Errorf("expected no updates, got %v %v", has, err)
	}
}

func TestForkedChangeProducesTwoParentCommit(t *testing.T) {
	f := setup(t)
	d1 := map[string]string{"text": "one"}
	d2 := map[string]string{"text": "two"}

	a := f.perspective(t, "doc")
	c1 := f.commit(t, a, d1)

	b, err := f.client.ForkPerspective(f.ctx, a, f.local, "")
	if err != nil {
		t.Fatalf("ForkPerspective failed: %v", err)
	}
	if f.head(t, b) != c1 {
		t.Fatalf("expected fork to start at %s", c1)
	}
	c1b := f.commit(t, b, d2)

	ws := f.merge(t, a, b)
	head := pendingHead(t, ws, a)

	commit, err := ws.GetCommit(f.ctx, head)
	if err != nil {
		t.Fatalf("GetCommit failed: %v", err)
	}
	payload := commit.Object.Payload
	if payload.DataID != dataID(t, d2) {
		t.Errorf("expected merged data %s, got %s", dataID(t, d2), payload.DataID)
	}
	if !reflect.DeepEqual(payload.ParentsIDs, []string{c1, c1b}) {
		t.Errorf("expected parents [%s %s], got %v", c1, c1b, payload.ParentsIDs)
	}

	if err := ws.Execute(f.ctx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if f.head(t, a) != head {
		t.Errorf("expected head %s after execute, got %s", head, f.head(t, a))
	}

	// merging again finds from already in history
	again := f.merge(t, a, b)
	if !again.IsEmpty() {
		t.Error("expected second merge to be empty")
	}
	if has, err := again.HasUpdates(f.ctx); err != nil || has {
		t.Errorf("expected no updates on re-merge, got %v %v", has, err)
	}
}

func TestNoCommonAncestorAdoptsFrom(t *testing.T) {
	f := setup(t)
	a := f.perspective(t, "doc")
	b := f.perspective(t, "other")
	ca := f.commit(t, a, map[string]any{"text": "mine", "n": 1})
	from := map[string]any{"text": "theirs", "extra": []string{"x"}}
	cb := f.commit(t, b, from)

	ws := f.merge(t, a, b)
	commit, err := ws.GetCommit(f.ctx, pendingHead(t, ws, a))
	if err != nil {
		t.Fatalf("GetCommit failed: %v", err)
	}
	if commit.Object.Payload.DataID != dataID(t, from) {
		t.Errorf("expected from's data to be adopted exactly")
	}
	if !reflect.DeepEqual(commit.Object.Payload.ParentsIDs, []string{ca, cb}) {
		t.Errorf("unexpected parents %v", commit.Object.Payload.ParentsIDs)
	}
}

func TestMergeIntoEmptyPerspective(t *testing.T) {
	f := setup(t)
	a := f.perspective(t, "doc")
	b := f.perspective(t, "doc")
	cb := f.commit(t, b, map[string]string{"text": "seed"})

	ws := f.merge(t, a, b)
	commit, err := ws.GetCommit(f.ctx, pendingHead(t, ws, a))
	if err != nil {
		t.Fatalf("GetCommit failed: %v", err)
	}
	if !reflect.DeepEqual(commit.Object.Payload.ParentsIDs, []string{cb}) {
		t.Errorf("expected single parent %s, got %v", cb, commit.Object.Payload.ParentsIDs)
	}
}

func TestMergeFromEmptyIsNoop(t *testing.T) {
	f := setup(t)
	a := f.perspective(t, "doc")
	b := f.perspective(t, "doc")
	f.commit(t, a, map[string]string{"text": "seed"})

	if ws := f.merge(t, a, b); !ws.IsEmpty() {
		t.Error("expected empty workspace when from has no head")
	}
}

func TestRecipientWinsConcurrentEdits(t *testing.T) {
	f := setup(t)
	a := f.perspective(t, "doc")
	f.commit(t, a, map[string]string{"text": "base"})
	b, err := f.client.ForkPerspective(f.ctx, a, f.local, "")
	if err != nil {
		t.Fatalf("ForkPerspective failed: %v", err)
	}
	f.commit(t, a, map[string]string{"text": "mine"})
	f.commit(t, b, map[string]string{"text": "theirs"})

	if ws := f.merge(t, a, b); !ws.IsEmpty() {
		t.Error("expected recipient's content to win without a new commit")
	}
}

func TestDanglingHeadSurfacesNotFound(t *testing.T) {
	f := setup(t)
	a := f.perspective(t, "doc")
	b := f.perspective(t, "doc")
	f.commit(t, a, map[string]string{"text": "seed"})
	if err := f.local.UpdatePerspective(f.ctx, b, evees.PerspectiveDetails{HeadID: evees.Str("zDangling")}); err != nil {
		t.Fatalf("UpdatePerspective failed: %v", err)
	}

	ws := workspace.New(f.client)
	err := f.merger.MergePerspectives(f.ctx, a, b, ws, Config{})
	if !evees.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestHasPendingChanges(t *testing.T) {
	f := setup(t)
	a := f.perspective(t, "doc")
	f.commit(t, a, map[string]string{"text": "one"})
	b, _ := f.client.ForkPerspective(f.ctx, a, f.local, "")

	pending, err := f.merger.HasPendingChanges(f.ctx, f.client, a, b)
	if err != nil || pending {
		t.Fatalf("expected no pending changes for identical fork, got %v %v", pending, err)
	}

	f.commit(t, b, map[string]string{"text": "two"})
	pending, err = f.merger.HasPendingChanges(f.ctx, f.client, a, b)
	if err != nil || !pending {
		t.Errorf("expected pending changes, got %v %v", pending, err)
	}
}

func TestMergeResult(t *testing.T) {
	if got := MergeResult("a", "a", "b"); got != "b" {
		t.Errorf("expected incoming change, got %s", got)
	}
	if got := MergeResult("a", "c", "b"); got != "c" {
		t.Errorf("expected recipient to win, got %s", got)
	}
	if got := MergeResult("a", "a", "a"); got != "a" {
		t.Errorf("expected original, got %s", got)
	}
}

func TestMergeOrderedLists(t *testing.T) {
	cases := []struct {
		name     string
		original []string
		to, from []string
		want     []string
	}{
		{"append", []string{"a", "b"}, []string{"a", "b"}, []string{"a", "b", "c"}, []string{"a", "b", "c"}},
		{"remove", []string{"a", "b", "c"}, []string{"a", "b", "c"}, []string{"a", "c"}, []string{"a", "c"}},
		{"insert front", []string{"a"}, []string{"a"}, []string{"x", "a"}, []string{"x", "a"}},
		{"both add", []string{"a"}, []string{"a", "t"}, []string{"a", "f"}, []string{"a", "f", "t"}},
		{"to removal kept", []string{"a", "b"}, []string{"a"}, []string{"a", "b"}, []string{"a"}},
		{"no duplicates", []string{"a"}, []string{"a", "n"}, []string{"a", "n"}, []string{"a", "n"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mergeOrderedLists(tc.original, [][]string{tc.to, tc.from})
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

type stubBehaviour struct {
	tag   string
	field string
}

func (s stubBehaviour) Type() string { return s.tag }

func (s stubBehaviour) Recognize(data json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, ok := fields[s.field]
	return ok
}

func (s stubBehaviour) Merge(ctx context.Context, ancestor json.RawMessage, modifications []json.RawMessage, strategy Strategy, ws *workspace.Workspace, cfg Config, parentID string) (any, error) {
	return map[string]string{s.field: "merged by " + s.tag}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubBehaviour{"first", "text"}, stubBehaviour{"second", "text"})
	if err := r.Register(stubBehaviour{"first", "other"}); err == nil {
		t.Error("expected duplicate tag to be rejected")
	}

	b, ok := r.Recognize(json.RawMessage(`{"text":"x"}`))
	if !ok || b.Type() != "first" {
		t.Errorf("expected first registered behaviour to win, got %v", b)
	}
	if _, ok := r.Recognize(json.RawMessage(`{"title":"x"}`)); ok {
		t.Error("expected unknown payload to be unrecognized")
	}
	if _, ok := r.Lookup("second"); !ok {
		t.Error("expected lookup by tag")
	}
	if got := r.Types(); !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Errorf("unexpected types %v", got)
	}
}

func TestBehaviourIsUsedForRecognizedPayloads(t *testing.T) {
	f := setup(t)
	f.merger = NewMerger(NewRegistry(stubBehaviour{"stub", "text"}))

	a := f.perspective(t, "doc")
	f.commit(t, a, map[string]string{"text": "base"})
	b, _ := f.client.ForkPerspective(f.ctx, a, f.local, "")
	f.commit(t, b, map[string]string{"text": "theirs"})

	ws := f.merge(t, a, b)
	data, err := ws.GetCommitData(f.ctx, pendingHead(t, ws, a))
	if err != nil {
		t.Fatalf("GetCommitData failed: %v", err)
	}
	if string(data.Object) != `{"text":"merged by stub"}` {
		t.Errorf("unexpected merged data %s", data.Object)
	}
}
