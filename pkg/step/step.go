// Package step implements StepPath, the immutable, hierarchically
// qualified label identifying a point in a circuit's static call tree.
// Every protocol construct that communicates narrows a child step off
// its parent; the three helpers
// must agree on the set of step paths used and their order, so sibling
// labels must be unique under a given parent.
package step

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// Path is an interned node in the step prefix tree: it remembers its
// parent and label so that two narrow calls with the same
// (parent, label) always yield the same logical step, while two
// *different* labels narrowed from the same parent are guaranteed
// distinct children.
type Path struct {
	parent *Path
	label  string
	depth  int

	childrenMu sync.Mutex
	children   map[string]*Path
}

// Root is the empty step path "/" every query execution begins at.
var Root = &Path{label: "", depth: 0}

// Narrow returns the child of p named label, interning it on first use.
// Calling Narrow(label) twice on the same parent with the same label
// returns the identical node (idempotent re-derivation along the same
// code path); it is the caller's responsibility, per the programming
// model, never to narrow the *same* label twice for two logically
// different circuit steps under one parent — that divergence is an
// invariant violation the gateway's channel registry is not required to
// untangle.
func (p *Path) Narrow(label string) *Path {
	if label == "" {
		panic("step: narrow label must not be empty")
	}
	p.childrenMu.Lock()
	defer p.childrenMu.Unlock()
	if p.children == nil {
		p.children = make(map[string]*Path)
	}
	if child, ok := p.children[label]; ok {
		return child
	}
	child := &Path{parent: p, label: label, depth: p.depth + 1}
	p.children[label] = child
	return child
}

// String renders the path as a forward-slash-joined sequence of labels,
// e.g. "/mul/round0/mac_check".
func (p *Path) String() string {
	if p.parent == nil {
		return "/"
	}
	labels := make([]string, 0, p.depth)
	for n := p; n.parent != nil; n = n.parent {
		labels = append(labels, n.label)
	}
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return "/" + strings.Join(labels, "/")
}

// URLEncode renders the path for use in a URL: segments separated by
// "/", each segment URL-safe base64 of the label bytes so arbitrary
// label characters survive routing.
func (p *Path) URLEncode() string {
	if p.parent == nil {
		return ""
	}
	labels := make([]string, 0, p.depth)
	for n := p; n.parent != nil; n = n.parent {
		labels = append(labels, base64.RawURLEncoding.EncodeToString([]byte(n.label)))
	}
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, "/")
}

// Decode parses a URLEncode-produced string back into a Path, narrowing
// from Root one segment at a time so the result is the same interned
// node every caller gets for that path.
func Decode(encoded string) (*Path, error) {
	p := Root
	if encoded == "" {
		return p, nil
	}
	for _, seg := range strings.Split(encoded, "/") {
		raw, err := base64.RawURLEncoding.DecodeString(seg)
		if err != nil {
			return nil, fmt.Errorf("step: decode segment %q: %w", seg, err)
		}
		p = p.Narrow(string(raw))
	}
	return p, nil
}

// Depth returns the number of labels from the root.
func (p *Path) Depth() int { return p.depth }
