// Package documents defines the TextNode payload and its merge behaviour.
// A document is a tree of perspectives whose heads point at TextNodes; the
// links of a node are the perspective ids of its children.
package documents

import (
	"context"
	"encoding/json"

	"github.com/javanhut/evees/internal/merge"
	"github.com/javanhut/evees/internal/workspace"
)

// NodeType is the rendering role of a TextNode.
type NodeType string

const (
	Paragraph NodeType = "Paragraph"
	Title     NodeType = "Title"
)

// TextNode is one block of a document.
type TextNode struct {
	Text  string   `json:"text"`
	Type  NodeType `json:"type"`
	Links []string `json:"links"`
}

// NewParagraph returns a paragraph node linking to children.
func NewParagraph(text string, children ...string) TextNode {
	if children == nil {
		children = []string{}
	}
	return TextNode{Text: text, Type: Paragraph, Links: children}
}

// NewTitle returns a title node linking to children.
func NewTitle(text string, children ...string) TextNode {
	n := NewParagraph(text, children...)
	n.Type = Title
	return n
}

// Behaviour merges TextNodes field by field and merges links recursively.
type Behaviour struct{}

func (Behaviour) Type() string { return "TextNode" }

// Recognize matches objects carrying text, type and links.
func (Behaviour) Recognize(data json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	for _, key := range []string{"text", "type", "links"} {
		if _, ok := fields[key]; !ok {
			return false
		}
	}
	return true
}

func (Behaviour) Merge(ctx context.Context, ancestor json.RawMessage, modifications []json.RawMessage, strategy merge.Strategy, ws *workspace.Workspace, cfg merge.Config, parentID string) (any, error) {
	anc, mods, err := merge.DecodeAll[TextNode](ancestor, modifications)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(mods))
	types := make([]NodeType, len(mods))
	links := make([][]string, len(mods))
	for i, m := range mods {
		texts[i], types[i], links[i] = m.Text, m.Type, m.Links
	}

	cfg.ParentID = parentID
	mergedLinks, err := strategy.MergeLinks(ctx, anc.Links, links, ws, cfg)
	if err != nil {
		return nil, err
	}
	if mergedLinks == nil {
		mergedLinks = []string{}
	}

	return TextNode{
		Text:  merge.MergeResult(anc.Text, texts...),
		Type:  merge.MergeResult(anc.Type, types...),
		Links: mergedLinks,
	}, nil
}
