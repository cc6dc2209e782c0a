package core

import (
	"sort"
	"strings"
)

// FieldKind is the declared type of a field
type FieldKind string

const (
	KindObjectID    FieldKind = "ObjectIdField"
	KindString      FieldKind = "StringField"
	KindBool        FieldKind = "BooleanField"
	KindInt         FieldKind = "IntField"
	KindFloat       FieldKind = "FloatField"
	KindFrameNumber FieldKind = "FrameNumberField"
	KindDate        FieldKind = "DateField"
	KindDateTime    FieldKind = "DateTimeField"
	KindList        FieldKind = "ListField"
	KindDict        FieldKind = "DictField"
	KindEmbedded    FieldKind = "EmbeddedDocumentField"
	KindVector      FieldKind = "VectorField"
)

const (
	MediaImage = "image"
	MediaVideo = "video"
	MediaGroup = "group"
)

const framesField = "frames"

// Field describes a field of a collection. List fields describe their
// elements with Elem and embedded documents list their fields in Fields.
type Field struct {
	Name    string    `json:"name" yaml:"name" mapstructure:"name"`
	DBField string    `json:"db_field,omitempty" yaml:"db_field,omitempty" mapstructure:"db_field"`
	Kind    FieldKind `json:"kind" yaml:"kind" mapstructure:"kind"`
	Elem    *Field    `json:"elem,omitempty" yaml:"elem,omitempty" mapstructure:"elem"`
	Fields  []*Field  `json:"fields,omitempty" yaml:"fields,omitempty" mapstructure:"fields"`
	DocType string    `json:"doc_type,omitempty" yaml:"doc_type,omitempty" mapstructure:"doc_type"`
}

// dbName returns the name the field is stored under
func (f *Field) dbName() string {
	if f.DBField != "" {
		return f.DBField
	}
	return f.Name
}

func (f *Field) IsList() bool {
	return f != nil && f.Kind == KindList
}

// leaf returns the innermost element type of nested lists
func (f *Field) leaf() *Field {
	for f != nil && f.Kind == KindList && f.Elem != nil {
		f = f.Elem
	}
	return f
}

func (f *Field) isDynamic() bool {
	l := f.leaf()
	return l != nil && l.Kind == KindDict
}

func (f *Field) children() []*Field {
	if l := f.leaf(); l != nil {
		return l.Fields
	}
	return nil
}

func findField(fields []*Field, name string) *Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	for _, f := range fields {
		if f.DBField != "" && f.DBField == name {
			return f
		}
	}
	return nil
}

// Collection is a read-only snapshot of a collection schema.
type Collection struct {
	Name             string   `json:"name" yaml:"name" mapstructure:"name"`
	MediaType        string   `json:"media_type,omitempty" yaml:"media_type,omitempty" mapstructure:"media_type"`
	FramesCollection string   `json:"frames_collection,omitempty" yaml:"frames_collection,omitempty" mapstructure:"frames_collection"`
	Fields           []*Field `json:"fields" yaml:"fields" mapstructure:"fields"`
	FrameFields      []*Field `json:"frame_fields,omitempty" yaml:"frame_fields,omitempty" mapstructure:"frame_fields"`

	// Grouped collections store one document per slice. GroupField holds
	// {_id, name}, DefaultSlice is the slice the collection is viewed
	// through and Slices are the slices aggregated over.
	GroupField   string   `json:"group_field,omitempty" yaml:"group_field,omitempty" mapstructure:"group_field"`
	DefaultSlice string   `json:"default_slice,omitempty" yaml:"default_slice,omitempty" mapstructure:"default_slice"`
	Slices       []string `json:"slices,omitempty" yaml:"slices,omitempty" mapstructure:"slices"`

	// DocTypes maps embedded document class names to their declared fields
	DocTypes map[string][]*Field `json:"doc_types,omitempty" yaml:"doc_types,omitempty" mapstructure:"doc_types"`
}

// ParsedField is the result of resolving a field path against a collection
type ParsedField struct {
	Path             string
	IsFrameField     bool
	UnwindListFields []string
	OtherListFields  []string
	IDToStr          bool
	Field            *Field
}

// ContainsVideos reports whether samples of the collection have frames
func (c *Collection) ContainsVideos() bool {
	return c.MediaType == MediaVideo
}

// GroupSlices returns the slices that must be gathered before aggregating
// path, or nil when the collection is not grouped.
func (c *Collection) GroupSlices(path string) []string {
	if c.MediaType != MediaGroup || len(c.Slices) == 0 || c.GroupField == "" {
		return nil
	}
	root := strings.SplitN(stripListMarkers(path), ".", 2)[0]
	if root == c.GroupField || root == framesField {
		return nil
	}
	return c.Slices
}

func (c *Collection) framesCollection() string {
	if c.FramesCollection != "" {
		return c.FramesCollection
	}
	return "frames." + c.Name
}

func (c *Collection) sampleFields() []*Field {
	if !c.ContainsVideos() {
		return c.Fields
	}
	fields := make([]*Field, 0, len(c.Fields)+1)
	fields = append(fields, c.Fields...)
	return append(fields, &Field{
		Name: framesField,
		Kind: KindList,
		Elem: &Field{Kind: KindEmbedded, DocType: "Frame", Fields: c.FrameFields},
	})
}

// GetField returns the field declared at path or nil
func (c *Collection) GetField(path string) *Field {
	fields := c.sampleFields()
	var f *Field

	for _, seg := range strings.Split(stripListMarkers(path), ".") {
		if f = findField(fields, seg); f == nil {
			return nil
		}
		fields = f.children()
	}
	return f
}

// ParseFieldName resolves path to its storage path and list structure.
// Segments suffixed with "[]" are always unwound. When omitTerminalLists is
// set a list at the end of the path is not reported as a list field.
func (c *Collection) ParseFieldName(path string, autoUnwind, omitTerminalLists, allowMissing bool) (ParsedField, error) {
	var pf ParsedField

	segs := strings.Split(path, ".")
	explicit := make([]bool, len(segs))
	for i, s := range segs {
		if strings.HasSuffix(s, "[]") {
			segs[i] = strings.TrimSuffix(s, "[]")
			explicit[i] = true
		}
	}

	pf.IsFrameField = c.ContainsVideos() && len(segs) > 1 && segs[0] == framesField

	fields := c.sampleFields()
	dbSegs := make([]string, 0, len(segs))
	var f *Field
	dynamic := false

	for i, seg := range segs {
		var next *Field
		if !dynamic {
			next = findField(fields, seg)
			if next == nil {
				if (f == nil || !f.isDynamic()) && !allowMissing {
					return pf, newSchemaResolutionError(c.Name, stripListMarkers(path))
				}
				dynamic = true
			}
		}

		if next != nil {
			dbSegs = append(dbSegs, next.dbName())
		} else {
			dbSegs = append(dbSegs, seg)
		}

		terminal := i == len(segs)-1
		isList := (next != nil && next.IsList()) || (next == nil && explicit[i])
		if isList && !(terminal && omitTerminalLists && !explicit[i]) {
			p := strings.Join(dbSegs, ".")
			if autoUnwind || explicit[i] {
				pf.UnwindListFields = append(pf.UnwindListFields, p)
			} else {
				pf.OtherListFields = append(pf.OtherListFields, p)
			}
		}

		f = next
		if f != nil {
			fields = f.children()
		}
	}

	pf.Path = strings.Join(dbSegs, ".")
	pf.Field = f
	if f != nil {
		last := segs[len(segs)-1]
		leaf := f.leaf()
		pf.IDToStr = leaf != nil && leaf.Kind == KindObjectID && last == f.Name && f.Name != f.dbName()
	}

	sort.Strings(pf.UnwindListFields)
	sort.Strings(pf.OtherListFields)
	return pf, nil
}

// docTypeFields returns the declared fields of an embedded document class
func (c *Collection) docTypeFields(name string) ([]*Field, bool) {
	fields, ok := c.DocTypes[name]
	return fields, ok
}

func stripListMarkers(path string) string {
	return strings.ReplaceAll(path, "[]", "")
}
