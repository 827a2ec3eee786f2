// Package memdoc provides an in-memory document.Document. Elements are keyed
// by the exact selector string used to look them up, which lets tests script a
// page without a browser. Suitable for dev/testing.
package memdoc

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/linnemanlabs/caseinv/internal/document"
)

// Event records one mutation or interaction applied to the page.
type Event struct {
	Node  string
	Kind  string // "write" or the interaction name
	Value string
}

// Doc is a scripted page. The zero value is not usable; call New.
type Doc struct {
	mu     sync.Mutex
	root   *Node
	events []Event
}

// Node is a scripted element.
type Node struct {
	Name    string
	Content string // displayed text
	Props   map[string]string

	// HiddenFor makes the node invisible to the next HiddenFor lookups of its
	// selector, simulating asynchronous rendering.
	HiddenFor int

	// Fail makes every read, write and dispatch on the node return an error.
	Fail bool

	// OnDispatch runs after an interaction is recorded, without the document
	// lock held, so it may add or remove nodes.
	OnDispatch func(in document.Interaction)

	doc      *Doc
	children map[string][]*Node
}

var errInjected = errors.New("memdoc: injected failure")

// New returns an empty document.
func New() *Doc {
	d := &Doc{}
	d.root = &Node{Name: "document", doc: d, children: make(map[string][]*Node)}
	return d
}

// Add attaches n under the page root for selector and returns n.
func (d *Doc) Add(selector string, n *Node) *Node {
	return d.root.Add(selector, n)
}

// Remove detaches every node registered for selector under the page root.
func (d *Doc) Remove(selector string) {
	d.root.Remove(selector)
}

// Events returns a copy of the recorded events, oldest first.
func (d *Doc) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// Query implements document.Querier.
func (d *Doc) Query(ctx context.Context, selector string) (document.Element, bool, error) {
	return d.root.Query(ctx, selector)
}

// QueryAll implements document.Querier.
func (d *Doc) QueryAll(ctx context.Context, selector string) ([]document.Element, error) {
	return d.root.QueryAll(ctx, selector)
}

// Add attaches child under n for selector and returns child.
func (n *Node) Add(selector string, child *Node) *Node {
	d := n.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	child.doc = d
	if child.children == nil {
		child.children = make(map[string][]*Node)
	}
	if child.Props == nil {
		child.Props = make(map[string]string)
	}
	n.children[selector] = append(n.children[selector], child)
	return child
}

// Remove detaches every child registered for selector.
func (n *Node) Remove(selector string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	delete(n.children, selector)
}

// Set updates a property under the document lock.
func (n *Node) Set(name, value string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.Props[name] = value
}

// Get reads a property under the document lock.
func (n *Node) Get(name string) string {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.Props[name]
}

// Query implements document.Querier.
func (n *Node) Query(_ context.Context, selector string) (document.Element, bool, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	for _, c := range n.children[selector] {
		if c.HiddenFor > 0 {
			c.HiddenFor--
			continue
		}
		return c, true, nil
	}
	return nil, false, nil
}

// QueryAll implements document.Querier.
func (n *Node) QueryAll(_ context.Context, selector string) ([]document.Element, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	var out []document.Element
	for _, c := range n.children[selector] {
		if c.HiddenFor > 0 {
			c.HiddenFor--
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Value implements document.Element.
func (n *Node) Value(_ context.Context, name string) (string, bool, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if n.Fail {
		return "", false, errInjected
	}
	v, ok := n.Props[name]
	return v, ok, nil
}

// Text implements document.Element.
func (n *Node) Text(_ context.Context) (string, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if n.Fail {
		return "", errInjected
	}
	return strings.TrimSpace(n.Content), nil
}

// WriteWithNotify implements document.Element.
func (n *Node) WriteWithNotify(_ context.Context, value string) error {
	d := n.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if n.Fail {
		return errInjected
	}
	n.Props["value"] = value
	d.events = append(d.events, Event{Node: n.Name, Kind: "write", Value: value})
	return nil
}

// Dispatch implements document.Element.
func (n *Node) Dispatch(_ context.Context, in document.Interaction) error {
	d := n.doc
	d.mu.Lock()
	if n.Fail {
		d.mu.Unlock()
		return errInjected
	}
	d.events = append(d.events, Event{Node: n.Name, Kind: string(in)})
	cb := n.OnDispatch
	d.mu.Unlock()

	if cb != nil {
		cb(in)
	}
	return nil
}
