package zarrutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotZarr means the store root holds neither group nor array metadata
var ErrNotZarr = errors.New("no zarr group or array metadata at store root")

var errArrayUnreadable = errors.New("unreadable array metadata")

// NodeKind distinguishes groups from arrays
type NodeKind int

const (
	// NodeUnknown is a node whose metadata exists but could not be decoded
	NodeUnknown NodeKind = iota
	NodeGroup
	NodeArray
)

func (k NodeKind) String() string {
	switch k {
	case NodeGroup:
		return "group"
	case NodeArray:
		return "array"
	default:
		return "unknown"
	}
}

// node is one group or array with its raw metadata as found in the store
// or in a consolidated document
type node struct {
	Path    string
	Kind    NodeKind
	MetaKey string
	Meta    json.RawMessage
	// v2 only: .zattrs key and payload, Attrs is nil when absent
	AttrsKey string
	Attrs    json.RawMessage
}

// hierarchy is a source of nodes: either the store itself (slow path) or a
// consolidated document (fast path). Both feed the same walk so traversal
// order is identical.
type hierarchy interface {
	// lookup returns the node at p, or nil when p is not a node
	lookup(ctx context.Context, p string) (*node, error)
	// children returns the sorted names below the group at p
	children(ctx context.Context, p string) ([]string, error)
	// empty reports whether the hierarchy holds no keys at all
	empty(ctx context.Context) (bool, error)
}

// walk visits the root, then for each group its arrays in name order, then
// each sub-group followed by its own subtree. An empty store (no root
// metadata and no other keys) is an empty hierarchy and visits nothing.
func walk(ctx context.Context, h hierarchy, visit func(*node) error) error {
	root, err := h.lookup(ctx, "")
	if err != nil {
		return err
	}
	if root == nil {
		empty, err := h.empty(ctx)
		if err != nil {
			return err
		}
		if empty {
			return nil
		}
		return ErrNotZarr
	}
	if err := visit(root); err != nil {
		return err
	}
	if root.Kind != NodeGroup {
		return nil
	}
	return walkGroup(ctx, h, "", visit)
}

func walkGroup(ctx context.Context, h hierarchy, p string, visit func(*node) error) error {
	names, err := h.children(ctx, p)
	if err != nil {
		return err
	}

	var groups []*node
	for _, name := range names {
		n, err := h.lookup(ctx, joinKey(p, name))
		if err != nil {
			return err
		}
		if n == nil {
			continue
		}
		if n.Kind == NodeGroup {
			groups = append(groups, n)
			continue
		}
		if err := visit(n); err != nil {
			return err
		}
	}

	for _, g := range groups {
		if err := visit(g); err != nil {
			return err
		}
		if err := walkGroup(ctx, h, g.Path, visit); err != nil {
			return err
		}
	}
	return nil
}

// storeHierarchy reads node metadata key by key through an Accessor
type storeHierarchy struct {
	acc *Accessor
}

func (h storeHierarchy) lookup(ctx context.Context, p string) (*node, error) {
	if h.acc.Format() == FormatV3 {
		key := joinKey(p, string(MTNode))
		raw, ok, err := h.acc.Get(ctx, key)
		if err != nil || !ok {
			return nil, err
		}
		return &node{Path: p, Kind: v3NodeKind(raw), MetaKey: key, Meta: raw}, nil
	}

	n := &node{Path: p, AttrsKey: joinKey(p, string(MTAttributes))}
	for _, c := range []struct {
		mt   MetaType
		kind NodeKind
	}{{MTArray, NodeArray}, {MTGroup, NodeGroup}} {
		key := joinKey(p, string(c.mt))
		raw, ok, err := h.acc.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			n.Kind, n.MetaKey, n.Meta = c.kind, key, raw
			break
		}
	}
	if n.Meta == nil {
		return nil, nil
	}

	attrs, ok, err := h.acc.Get(ctx, n.AttrsKey)
	if err != nil {
		return nil, err
	}
	if ok {
		n.Attrs = attrs
	}
	return n, nil
}

func (h storeHierarchy) children(ctx context.Context, p string) ([]string, error) {
	names, err := h.acc.ListChildren(ctx, p)
	if err != nil {
		return nil, err
	}
	kept := names[:0]
	for _, name := range names {
		if strings.HasPrefix(name, ".") || name == string(MTNode) {
			continue
		}
		kept = append(kept, name)
	}
	return kept, nil
}

// empty ignores a consolidated document written for an empty store
func (h storeHierarchy) empty(ctx context.Context) (bool, error) {
	names, err := h.acc.ListChildren(ctx, "")
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name != string(MTMetadata) {
			return false, nil
		}
	}
	return true, nil
}

// consolidatedHierarchy serves nodes out of a consolidated document
type consolidatedHierarchy struct {
	format Format
	meta   map[string]json.RawMessage
	root   json.RawMessage
	kids   map[string]map[string]struct{}
}

// newConsolidatedHierarchy indexes doc. For v3, root is the root zarr.json
// payload, which the consolidated mapping doesn't contain.
func newConsolidatedHierarchy(format Format, doc *ConsolidatedMetadata, root json.RawMessage) *consolidatedHierarchy {
	h := &consolidatedHierarchy{
		format: format,
		meta:   doc.Metadata,
		root:   root,
		kids:   map[string]map[string]struct{}{},
	}
	for key := range doc.Metadata {
		p := key
		if format != FormatV3 {
			if _, ok := KeyMetaType(key); !ok {
				continue
			}
			p = parentPath(key)
		}
		h.index(p)
	}
	return h
}

func (h *consolidatedHierarchy) index(p string) {
	for p != "" {
		parent := parentPath(p)
		name := strings.TrimPrefix(p[len(parent):], "/")
		if h.kids[parent] == nil {
			h.kids[parent] = map[string]struct{}{}
		}
		h.kids[parent][name] = struct{}{}
		p = parent
	}
}

func (h *consolidatedHierarchy) lookup(_ context.Context, p string) (*node, error) {
	if h.format == FormatV3 {
		raw := h.meta[p]
		if p == "" {
			raw = h.root
		}
		if raw == nil {
			return nil, nil
		}
		return &node{Path: p, Kind: v3NodeKind(raw), MetaKey: joinKey(p, string(MTNode)), Meta: raw}, nil
	}

	n := &node{Path: p, AttrsKey: joinKey(p, string(MTAttributes))}
	if raw, ok := h.meta[joinKey(p, string(MTArray))]; ok {
		n.Kind, n.MetaKey, n.Meta = NodeArray, joinKey(p, string(MTArray)), raw
	} else if raw, ok := h.meta[joinKey(p, string(MTGroup))]; ok {
		n.Kind, n.MetaKey, n.Meta = NodeGroup, joinKey(p, string(MTGroup)), raw
	} else {
		return nil, nil
	}
	n.Attrs = h.meta[n.AttrsKey]
	return n, nil
}

func (h *consolidatedHierarchy) children(_ context.Context, p string) ([]string, error) {
	return sortedKeys(h.kids[p]), nil
}

func (h *consolidatedHierarchy) empty(context.Context) (bool, error) {
	return len(h.meta) == 0 && h.root == nil, nil
}

func v3NodeKind(raw json.RawMessage) NodeKind {
	var g GroupMeta
	if err := json.Unmarshal(raw, &g); err != nil {
		return NodeUnknown
	}
	switch g.NodeType {
	case nodeTypeArray:
		return NodeArray
	case nodeTypeGroup:
		return NodeGroup
	default:
		return NodeUnknown
	}
}

// nodeAttributes decodes the attributes of a group or array node
func nodeAttributes(format Format, n *node) (Attributes, error) {
	attrs := Attributes{}
	if format == FormatV3 {
		var m struct {
			Attributes Attributes `json:"attributes"`
		}
		if err := json.Unmarshal(n.Meta, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrMetadataCorrupt, n.MetaKey, err)
		}
		if m.Attributes != nil {
			attrs = m.Attributes
		}
		return attrs, nil
	}

	if n.Attrs == nil {
		return attrs, nil
	}
	if err := json.Unmarshal(n.Attrs, &attrs); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMetadataCorrupt, n.AttrsKey, err)
	}
	if attrs == nil {
		attrs = Attributes{}
	}
	return attrs, nil
}

// arrayInfo is what the validator and inspector need from array metadata
type arrayInfo struct {
	Shape      []int
	Chunks     []int
	Dtype      string
	ItemSize   int
	Compressor string
	Attrs      Attributes
	chunkKey   func(coords []int) string
}

var requiredArrayFields = map[Format][]string{
	FormatV2: {"shape", "chunks", "dtype"},
	FormatV3: {"shape", "data_type", "chunk_grid"},
}

// decodeArray reads array metadata. Errors wrap ErrMetadataCorrupt when
// the payload isn't JSON, errArrayUnreadable when it's JSON that doesn't
// describe an array this package understands.
func decodeArray(format Format, n *node) (*arrayInfo, error) {
	if !json.Valid(n.Meta) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", ErrMetadataCorrupt, n.MetaKey)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(n.Meta, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s", errArrayUnreadable, err)
	}
	if format == FormatAuto {
		format = FormatV2
	}
	for _, f := range requiredArrayFields[format] {
		if v, ok := fields[f]; !ok || string(v) == "null" {
			return nil, fmt.Errorf("%w: missing %s", errArrayUnreadable, f)
		}
	}

	attrs, err := nodeAttributes(format, n)
	if err != nil {
		return nil, err
	}

	if format == FormatV3 {
		m := &ArrayMetaV3{}
		if err := json.Unmarshal(n.Meta, m); err != nil {
			return nil, fmt.Errorf("%w: %s", errArrayUnreadable, err)
		}
		if m.ChunkGrid.Name != "regular" {
			return nil, fmt.Errorf("%w: unsupported chunk grid %q", errArrayUnreadable, m.ChunkGrid.Name)
		}
		dtype := m.DataTypeName()
		size, err := V3ItemSize(dtype)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errArrayUnreadable, err)
		}
		return &arrayInfo{
			Shape:      m.Shape,
			Chunks:     m.ChunkGrid.Configuration.ChunkShape,
			Dtype:      dtype,
			ItemSize:   size,
			Compressor: m.Compressor(),
			Attrs:      attrs,
			chunkKey:   m.ChunkKey,
		}, nil
	}

	m := &ArrayMeta{}
	if err := json.Unmarshal(n.Meta, m); err != nil {
		return nil, fmt.Errorf("%w: %s", errArrayUnreadable, err)
	}
	info := &arrayInfo{
		Shape:    m.Shape,
		Chunks:   m.Chunks,
		Dtype:    m.Dtype.String(),
		ItemSize: m.Dtype.ItemSize(),
		Attrs:    attrs,
		chunkKey: m.ChunkKey,
	}
	if m.Compressor != nil {
		info.Compressor = m.Compressor.ID
	}
	return info, nil
}
