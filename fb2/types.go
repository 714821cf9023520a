package fb2

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

const (
	// NamespaceFB2 is FictionBook 2.0 default namespace.
	NamespaceFB2 = "http://www.gribuser.ru/xml/fictionbook/2.0"
	// NamespaceXLink is namespace of image references.
	NamespaceXLink = "http://www.w3.org/1999/xlink"
)

// BinaryResource is a single binary attachment of a document.
type BinaryResource struct {
	ID          string
	ContentType string // declared, normalized after classification
	Data        []byte
	Ext         string // detected extension with leading dot, empty until classified
	Ref         string // reference key used in the body, "#" + ID
}

// Token returns placeholder which replaces resource reference in document
// body until references are resolved during merge.
func (r *BinaryResource) Token() string {
	return ImageToken(r.ID)
}

// ImageToken returns body placeholder for resource id.
func ImageToken(id string) string {
	return "@@IMAGE_" + id + "@@"
}

// BodySource gives access to document body not kept in memory.
type BodySource interface {
	Load() (string, error)
	fmt.Stringer
}

// FileBody is body spilled into a file.
type FileBody struct {
	Path string
}

func (f FileBody) Load() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("unable to load document body: %w", err)
	}
	return string(data), nil
}

func (f FileBody) String() string {
	return f.Path
}

type Author struct {
	FirstName  string
	MiddleName string
	LastName   string
	Nickname   string
}

func (a Author) String() string {
	name := strings.Join(strings.Fields(strings.Join([]string{a.FirstName, a.MiddleName, a.LastName}, " ")), " ")
	if name == "" {
		return a.Nickname
	}
	return name
}

// Document is a single parsed FB2 ready to be merged.
type Document struct {
	Name     string // source name, used in messages and as title fallback
	Title    string
	Body     string // body markup with resource references replaced by tokens
	Deferred BodySource
	Order    int

	Lang     language.Tag
	Authors  []Author
	Encoding string
	Fidelity Fidelity

	resources []*BinaryResource
	index     map[string]*BinaryResource
	degraded  bool
}

// Resources returns accepted resources in document order.
func (d *Document) Resources() []*BinaryResource {
	return d.resources
}

// Resource looks up accepted resource by its original id.
func (d *Document) Resource(id string) (*BinaryResource, bool) {
	r, ok := d.index[id]
	return r, ok
}

// AddResource keeps the first resource with given id.
func (d *Document) AddResource(r *BinaryResource) bool {
	if d.index == nil {
		d.index = make(map[string]*BinaryResource)
	}
	if _, exists := d.index[r.ID]; exists {
		return false
	}
	d.index[r.ID] = r
	d.resources = append(d.resources, r)
	return true
}

// Degraded reports whether document could not be parsed and its body is raw
// decoded source.
func (d *Document) Degraded() bool {
	return d.degraded
}

// Materialize loads deferred body into memory.
func (d *Document) Materialize() error {
	if d.Deferred == nil {
		return nil
	}
	body, err := d.Deferred.Load()
	if err != nil {
		return err
	}
	d.Body, d.Deferred = body, nil
	return nil
}
