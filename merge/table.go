package merge

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"fbm/config"
	"fbm/fb2"
)

// ResourceTable holds resources of all merged documents under new global
// ids and remembers, per document, which global id replaced which original
// one. Table is built fresh for every merge.
type ResourceTable struct {
	format    string
	resources []*fb2.BinaryResource
	mapping   []map[string]string
	global    map[string]bool
}

func newResourceTable(prefix string, digits int) *ResourceTable {
	return &ResourceTable{
		format: fmt.Sprintf("%s%%0%dd", prefix, digits),
		global: make(map[string]bool),
	}
}

// buildTable copies resources of every document in order. Payload is cloned
// so merged output never shares memory with parsed documents.
func buildTable(docs []*fb2.Document, cfg *config.DocumentConfig, cls *fb2.Classifier, log *zap.Logger) *ResourceTable {
	t := newResourceTable(cfg.Merge.IDPrefix, cfg.Merge.IDDigits)
	for _, doc := range docs {
		ids := make(map[string]string, len(doc.Resources()))
		for _, res := range doc.Resources() {
			ids[res.ID] = t.add(res, cfg, cls, log)
		}
		t.mapping = append(t.mapping, ids)
	}
	return t
}

func (t *ResourceTable) add(src *fb2.BinaryResource, cfg *config.DocumentConfig, cls *fb2.Classifier, log *zap.Logger) string {
	id := fmt.Sprintf(t.format, len(t.resources)+1)

	res := &fb2.BinaryResource{
		ID:          id,
		ContentType: src.ContentType,
		Data:        bytes.Clone(src.Data),
		Ext:         src.Ext,
		Ref:         "#" + id,
	}
	if res.Ext == "" || res.ContentType == "" {
		res.Ext, res.ContentType = cls.Classify(res.Data, src.ContentType)
	}

	if data, scaled, err := fb2.ScaleToHeight(res.Data, res.Ext, cfg.Images.MaxHeight, cfg.Images.JPEGQuality); err != nil {
		log.Warn("Unable to downscale image, keeping original", zap.String("id", src.ID), zap.String("global", id), zap.Error(err))
	} else if scaled {
		log.Debug("Image downscaled", zap.String("global", id), zap.Int("before", len(res.Data)), zap.Int("after", len(data)))
		res.Data = data
	}

	t.resources = append(t.resources, res)
	t.global[id] = true
	return id
}

// Len returns number of global resources.
func (t *ResourceTable) Len() int {
	return len(t.resources)
}

// Resources returns global resources in order of their ids.
func (t *ResourceTable) Resources() []*fb2.BinaryResource {
	return t.resources
}

// Lookup returns global id which replaced original id of document at
// position doc.
func (t *ResourceTable) Lookup(doc int, id string) (string, bool) {
	if doc < 0 || doc >= len(t.mapping) {
		return "", false
	}
	global, ok := t.mapping[doc][id]
	return global, ok
}

// IsGlobal reports whether id is one of the global resource ids.
func (t *ResourceTable) IsGlobal(id string) bool {
	return t.global[id]
}
