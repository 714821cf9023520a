package fb2

import (
	"fbm/utils/debug"
)

const bodyExcerptLimit = 512

// String returns a readable dump of the document without binary payloads.
// Dumps go into debug report.
func (d *Document) String() string {
	if d == nil {
		return "<nil Document>"
	}

	tw := debug.NewTreeWriter()
	tw.Line(0, "Document name=%q order=%d", d.Name, d.Order)
	tw.TextBlock(1, "Title", d.Title)
	tw.Line(1, "Encoding=%q Fidelity=%s Degraded=%t", d.Encoding, d.Fidelity, d.degraded)
	tw.Line(1, "Lang=%s", d.Lang)
	for i, a := range d.Authors {
		tw.Line(1, "Author[%d] %q", i, a)
	}
	if len(d.resources) > 0 {
		tw.Line(1, "Resources: %d", len(d.resources))
		for i, r := range d.resources {
			tw.Line(2, "Resource[%d] id=%q contentType=%q ext=%q bytes=%d image=%s", i, r.ID, r.ContentType, r.Ext, len(r.Data), imageInfo(r.Data))
		}
	}
	if d.Deferred != nil {
		tw.Line(1, "Body deferred to %s", d.Deferred)
	} else {
		tw.Excerpt(1, "Body", d.Body, bodyExcerptLimit)
	}
	return tw.String()
}
