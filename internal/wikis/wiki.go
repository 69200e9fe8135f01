// Package wikis defines the Wiki payload, a titled list of page perspectives.
package wikis

import (
	"context"
	"encoding/json"

	"github.com/javanhut/evees/internal/merge"
	"github.com/javanhut/evees/internal/workspace"
)

type Wiki struct {
	Title string   `json:"title"`
	Pages []string `json:"pages"`
}

// New returns a wiki with the given pages.
func New(title string, pages ...string) Wiki {
	if pages == nil {
		pages = []string{}
	}
	return Wiki{Title: title, Pages: pages}
}

type Behaviour struct{}

func (Behaviour) Type() string { return "Wiki" }

func (Behaviour) Recognize(data json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, hasTitle := fields["title"]
	_, hasPages := fields["pages"]
	return hasTitle && hasPages
}

func (Behaviour) Merge(ctx context.Context, ancestor json.RawMessage, modifications []json.RawMessage, strategy merge.Strategy, ws *workspace.Workspace, cfg merge.Config, parentID string) (any, error) {
	anc, mods, err := merge.DecodeAll[Wiki](ancestor, modifications)
	if err != nil {
		return nil, err
	}

	titles := make([]string, len(mods))
	pages := make([][]string, len(mods))
	for i, m := range mods {
		titles[i], pages[i] = m.Title, m.Pages
	}

	cfg.ParentID = parentID
	merged, err := strategy.MergeLinks(ctx, anc.Pages, pages, ws, cfg)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		merged = []string{}
	}
	return Wiki{Title: merge.MergeResult(anc.Title, titles...), Pages: merged}, nil
}
