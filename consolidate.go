package zarrutils

import (
	"context"
	"encoding/json"
	"fmt"
)

// ConsolidateOptions configures Consolidate
type ConsolidateOptions struct {
	// DryRun builds and returns the document without writing it
	DryRun bool
}

// Consolidate walks every group and array reachable from the store root and
// aggregates their metadata into one document, written to the store's
// consolidated key unless DryRun is set. Rerunning it on an unchanged store
// writes byte-identical output.
//
// Consolidate fails with ErrStoreUnreachable when the root can't be listed
// and with ErrMetadataCorrupt when a node's metadata isn't valid JSON. In
// both cases nothing is written.
func Consolidate(ctx context.Context, acc *Accessor, opts ConsolidateOptions) (*ConsolidatedMetadata, error) {
	if err := acc.Reachable(ctx); err != nil {
		return nil, err
	}

	col := newCollector(acc.Format())
	if err := walk(ctx, storeHierarchy{acc}, col.add); err != nil {
		return nil, err
	}
	if len(col.corrupt) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMetadataCorrupt, col.corrupt[0])
	}

	log := acc.Logger().With("store", acc.Store().Type(), "format", acc.Format().String())
	if opts.DryRun {
		log.Info("consolidated metadata built, dry run", "entries", len(col.doc.Metadata))
		return col.doc, nil
	}

	if err := writeConsolidated(ctx, acc, col.doc); err != nil {
		return nil, err
	}
	log.Info("consolidated metadata written", "key", acc.ConsolidatedKey(), "entries", len(col.doc.Metadata))
	return col.doc, nil
}

// collector accumulates node payloads into a consolidated document
type collector struct {
	format  Format
	doc     *ConsolidatedMetadata
	corrupt []string
}

func newCollector(f Format) *collector {
	return &collector{format: f, doc: NewConsolidatedMetadata()}
}

func (c *collector) add(n *node) error {
	if !json.Valid(n.Meta) {
		c.corrupt = append(c.corrupt, n.MetaKey)
		return nil
	}

	if c.format == FormatV3 {
		// the root zarr.json holds the document itself
		if n.Path != "" {
			c.doc.Metadata[n.Path] = n.Meta
		}
		return nil
	}

	c.doc.Metadata[n.MetaKey] = n.Meta
	if n.Attrs != nil {
		if !json.Valid(n.Attrs) {
			c.corrupt = append(c.corrupt, n.AttrsKey)
			return nil
		}
		c.doc.Metadata[n.AttrsKey] = n.Attrs
	}
	return nil
}

func writeConsolidated(ctx context.Context, acc *Accessor, doc *ConsolidatedMetadata) error {
	if acc.Format() != FormatV3 {
		data, err := doc.Encode()
		if err != nil {
			return err
		}
		return acc.Put(ctx, string(MTMetadata), data)
	}

	key := string(MTNode)
	raw, ok, err := acc.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: root %s", ErrNotZarr, key)
	}
	root := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &root); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrMetadataCorrupt, key, err)
	}
	// only groups carry consolidated metadata
	if v3NodeKind(raw) != NodeGroup {
		return fmt.Errorf("%w: %s", ErrRootNotGroup, key)
	}
	inline, err := json.Marshal(consolidatedV3{
		Kind:           "inline",
		MustUnderstand: false,
		Metadata:       doc.Metadata,
	})
	if err != nil {
		return err
	}
	root[consolidatedV3Field] = inline
	data, err := encodeJSON(root)
	if err != nil {
		return err
	}
	return acc.Put(ctx, key, data)
}

// ReadConsolidated returns the consolidated document stored in acc. ok is
// false when there is none. A document that exists but can't be parsed
// returns an error wrapping ErrMetadataCorrupt.
func ReadConsolidated(ctx context.Context, acc *Accessor) (doc *ConsolidatedMetadata, ok bool, err error) {
	doc, _, ok, err = readConsolidated(ctx, acc)
	return doc, ok, err
}

// readConsolidated also returns the v3 root payload needed to serve the
// root node from the document
func readConsolidated(ctx context.Context, acc *Accessor) (*ConsolidatedMetadata, json.RawMessage, bool, error) {
	if acc.Format() != FormatV3 {
		raw, ok, err := acc.Get(ctx, string(MTMetadata))
		if err != nil || !ok {
			return nil, nil, false, err
		}
		doc, err := ParseConsolidatedMetadata(raw)
		return doc, nil, true, err
	}

	raw, ok, err := acc.Get(ctx, string(MTNode))
	if err != nil || !ok {
		return nil, nil, false, err
	}
	var root struct {
		Consolidated json.RawMessage `json:"consolidated_metadata"`
	}
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, nil, false, fmt.Errorf("%w: %s: %s", ErrMetadataCorrupt, MTNode, err)
	}
	if len(root.Consolidated) == 0 || string(root.Consolidated) == "null" {
		return nil, raw, false, nil
	}
	inline := consolidatedV3{}
	if err := json.Unmarshal(root.Consolidated, &inline); err != nil {
		return nil, raw, true, fmt.Errorf("%w: %s %s: %s", ErrMetadataCorrupt, MTNode, consolidatedV3Field, err)
	}
	doc := NewConsolidatedMetadata()
	for k, v := range inline.Metadata {
		doc.Metadata[k] = v
	}
	return doc, raw, true, nil
}

