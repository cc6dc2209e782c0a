package mongodriver

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/dosco/aggjin/core"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const defaultSampleSize = 100

// IntrospectOptions configures schema discovery.
type IntrospectOptions struct {
	SampleSize        int    `mapstructure:"sample_size" json:"sample_size" yaml:"sample_size"`
	IncludeValidators bool   `mapstructure:"include_validators" json:"include_validators" yaml:"include_validators"`
	MediaType         string `mapstructure:"media_type" json:"media_type" yaml:"media_type"`
	FramesCollection  string `mapstructure:"frames_collection" json:"frames_collection" yaml:"frames_collection"`
	DefaultSlice      string `mapstructure:"default_slice" json:"default_slice" yaml:"default_slice"`
}

// InferCollection builds the schema of a collection from a sample of its
// documents. Embedded documents carrying a _cls key become embedded
// document fields of that class, other sub-documents become dict fields.
// Video collections get their frame fields from the frames collection and
// grouped collections get their slices from the group field.
func InferCollection(ctx context.Context, db *mongo.Database, name string, opts IntrospectOptions) (*core.Collection, error) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSampleSize
	}

	docs, err := sampleDocuments(ctx, db.Collection(name), opts.SampleSize)
	if err != nil {
		return nil, err
	}

	in := newInferrer()
	coll := &core.Collection{
		Name:      name,
		MediaType: opts.MediaType,
		Fields:    in.documents(docs),
	}

	if opts.IncludeValidators {
		validator, err := collectionValidator(ctx, db, name)
		if err != nil {
			return nil, err
		}
		coll.Fields = mergeFields(coll.Fields, validator)
	}

	framesName := opts.FramesCollection
	if framesName == "" {
		framesName = "frames." + name
	}
	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: framesName}})
	if err != nil {
		return nil, fmt.Errorf("mongodriver: list collections: %w", err)
	}

	if len(names) != 0 && (opts.MediaType == "" || opts.MediaType == core.MediaVideo) {
		frames, err := sampleDocuments(ctx, db.Collection(framesName), opts.SampleSize)
		if err != nil {
			return nil, err
		}
		coll.MediaType = core.MediaVideo
		coll.FrameFields = markFrameNumber(in.documents(frames))
		if opts.FramesCollection != "" {
			coll.FramesCollection = opts.FramesCollection
		}
	}

	if gf := groupField(coll.Fields); gf != "" && (opts.MediaType == "" || opts.MediaType == core.MediaGroup) {
		slices, err := groupSlices(ctx, db.Collection(name), gf)
		if err != nil {
			return nil, err
		}
		coll.MediaType = core.MediaGroup
		coll.GroupField = gf
		coll.Slices = slices
		coll.DefaultSlice = opts.DefaultSlice
		if coll.DefaultSlice == "" && len(slices) != 0 {
			coll.DefaultSlice = slices[0]
		}
	}

	if coll.MediaType == "" {
		coll.MediaType = core.MediaImage
	}
	coll.DocTypes = in.docTypes
	return coll, nil
}

// sampleDocuments samples documents to discover field types.
func sampleDocuments(ctx context.Context, coll *mongo.Collection, size int) ([]bson.M, error) {
	pipeline := bson.A{
		bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: size}}}},
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: sample %s: %w", coll.Name(), err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodriver: sample %s: %w", coll.Name(), err)
	}
	return docs, nil
}

func groupSlices(ctx context.Context, coll *mongo.Collection, gf string) ([]string, error) {
	pipeline := bson.A{
		bson.D{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$" + gf + ".name"}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: group slices: %w", err)
	}
	defer cursor.Close(ctx)

	var slices []string
	for cursor.Next(ctx) {
		var doc struct {
			ID any `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodriver: group slices: %w", err)
		}
		if s, ok := doc.ID.(string); ok {
			slices = append(slices, s)
		}
	}
	return slices, cursor.Err()
}

// collectionValidator reads the top-level field types declared by a
// $jsonSchema validator
func collectionValidator(ctx context.Context, db *mongo.Database, name string) ([]*core.Field, error) {
	cursor, err := db.ListCollections(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return nil, fmt.Errorf("mongodriver: list collections: %w", err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		return nil, cursor.Err()
	}

	var collInfo struct {
		Options struct {
			Validator struct {
				JSONSchema struct {
					Properties map[string]struct {
						BSONType any `bson:"bsonType"`
					} `bson:"properties"`
				} `bson:"$jsonSchema"`
			} `bson:"validator"`
		} `bson:"options"`
	}

	if err := cursor.Decode(&collInfo); err != nil {
		return nil, fmt.Errorf("mongodriver: decode collection info: %w", err)
	}

	var fields []*core.Field
	for key, prop := range collInfo.Options.Validator.JSONSchema.Properties {
		kind, ok := kindOf(normalizeBSONType(prop.BSONType))
		if !ok {
			continue
		}
		f := &core.Field{Kind: kind}
		if kind == core.KindList {
			f.Elem = &core.Field{Kind: core.KindDict}
		}
		fields = append(fields, named(f, key))
	}
	sortFields(fields)
	return fields, nil
}

type inferrer struct {
	docTypes map[string][]*core.Field
}

func newInferrer() *inferrer {
	return &inferrer{docTypes: map[string][]*core.Field{}}
}

// documents returns the union of the fields of docs
func (in *inferrer) documents(docs []bson.M) []*core.Field {
	var fields []*core.Field
	for _, d := range docs {
		fields = mergeFields(fields, in.document(entries(d)))
	}
	return fields
}

func (in *inferrer) document(doc bson.D) []*core.Field {
	var fields []*core.Field
	for _, e := range doc {
		if e.Key == "_cls" {
			continue
		}
		f := in.value(e.Value)
		if f == nil {
			continue
		}
		fields = append(fields, named(f, e.Key))
	}
	sortFields(fields)
	return fields
}

// value infers the field of a single value. Nulls carry no type and
// return nil.
func (in *inferrer) value(v any) *core.Field {
	bsonType := inferBSONType(v)

	switch bsonType {
	case "array":
		var elem *core.Field
		for _, item := range listItems(v) {
			elem = mergeField(elem, in.value(item))
		}
		return &core.Field{Kind: core.KindList, Elem: elem}

	case "object":
		doc := entries(v)
		cls, ok := lookup(doc, "_cls").(string)
		if !ok || cls == "" {
			return &core.Field{Kind: core.KindDict}
		}
		fields := in.document(doc)
		in.docTypes[cls] = mergeFields(in.docTypes[cls], fields)
		return &core.Field{Kind: core.KindEmbedded, DocType: cls, Fields: fields}
	}

	if kind, ok := kindOf(bsonType); ok {
		return &core.Field{Kind: kind}
	}
	return nil
}

// inferBSONType determines the BSON type from a Go value.
func inferBSONType(v any) string {
	if v == nil {
		return "null"
	}

	switch val := v.(type) {
	case bson.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int, int32, int64:
		return "long"
	case float32, float64:
		return "double"
	case bson.Decimal128:
		return "decimal"
	case bool:
		return "bool"
	case bson.DateTime:
		return "date"
	case bson.A, []any:
		return "array"
	case bson.M, bson.D, map[string]any:
		if isGeoJSON(entries(val)) {
			return "geojson"
		}
		return "object"
	case bson.Binary:
		return "binData"
	default:
		rt := reflect.TypeOf(val)
		if rt.Kind() == reflect.Slice {
			return "array"
		}
		if rt.Kind() == reflect.Map || rt.Kind() == reflect.Struct {
			return "object"
		}
		return "string"
	}
}

// kindOf maps a BSON type to the field kind it is declared as
func kindOf(bsonType string) (core.FieldKind, bool) {
	switch bsonType {
	case "objectId":
		return core.KindObjectID, true
	case "string":
		return core.KindString, true
	case "int", "long":
		return core.KindInt, true
	case "double", "decimal":
		return core.KindFloat, true
	case "bool":
		return core.KindBool, true
	case "date":
		return core.KindDateTime, true
	case "array":
		return core.KindList, true
	case "object", "geojson":
		return core.KindDict, true
	case "binData":
		return core.KindVector, true
	}
	return "", false
}

// isGeoJSON checks if a document is a GeoJSON object.
func isGeoJSON(doc bson.D) bool {
	typeStr, ok := lookup(doc, "type").(string)
	if !ok || lookup(doc, "coordinates") == nil {
		return false
	}
	switch typeStr {
	case "Point", "LineString", "Polygon", "MultiPoint", "MultiLineString", "MultiPolygon", "GeometryCollection":
		return true
	}
	return false
}

// normalizeBSONType handles bsonType being string or array.
func normalizeBSONType(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bson.A:
		return normalizeBSONType([]any(t))
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	}
	return "string"
}

// mergeField combines two inferred types of the same field. Ints widen to
// floats, lists merge their elements and embedded documents the union of
// their fields. Otherwise the first type wins.
func mergeField(a, b *core.Field) *core.Field {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}

	out := *a
	switch {
	case a.Kind == core.KindInt && b.Kind == core.KindFloat:
		out.Kind = core.KindFloat
	case a.Kind == core.KindList && b.Kind == core.KindList:
		out.Elem = mergeField(a.Elem, b.Elem)
	case a.Kind == core.KindEmbedded && b.Kind == core.KindEmbedded && a.DocType == b.DocType:
		out.Fields = mergeFields(a.Fields, b.Fields)
	}
	return &out
}

// mergeFields merges two field lists by name
func mergeFields(a, b []*core.Field) []*core.Field {
	out := make([]*core.Field, 0, len(a)+len(b))
	idx := make(map[string]int, len(a))

	for _, f := range a {
		idx[f.Name] = len(out)
		out = append(out, f)
	}
	for _, f := range b {
		if i, ok := idx[f.Name]; ok {
			out[i] = mergeField(out[i], f)
			continue
		}
		idx[f.Name] = len(out)
		out = append(out, f)
	}
	sortFields(out)
	return out
}

// markFrameNumber declares the frame_number field of frame documents
func markFrameNumber(fields []*core.Field) []*core.Field {
	for i, f := range fields {
		if f.Name == "frame_number" && f.Kind == core.KindInt {
			cp := *f
			cp.Kind = core.KindFrameNumber
			fields[i] = &cp
		}
	}
	return fields
}

// groupField returns the name of the top-level Group field, if any
func groupField(fields []*core.Field) string {
	for _, f := range fields {
		if f.Kind == core.KindEmbedded && f.DocType == "Group" {
			return f.Name
		}
	}
	return ""
}

// named sets the name of f. Fields stored as _id are exposed as id.
func named(f *core.Field, key string) *core.Field {
	if key == "_id" {
		f.Name = "id"
		f.DBField = "_id"
		return f
	}
	f.Name = key
	return f
}

func sortFields(fields []*core.Field) {
	sort.SliceStable(fields, func(i, j int) bool {
		a, b := fields[i].Name, fields[j].Name
		if a == "id" || b == "id" {
			return a == "id" && b != "id"
		}
		return a < b
	})
}

// entries returns the elements of a document in a stable order
func entries(v any) bson.D {
	switch d := v.(type) {
	case bson.D:
		return d
	case bson.M:
		return entries(map[string]any(d))
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(bson.D, len(keys))
		for i, k := range keys {
			out[i] = bson.E{Key: k, Value: d[k]}
		}
		return out
	}
	return nil
}

func lookup(doc bson.D, key string) any {
	for _, e := range doc {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

func listItems(v any) []any {
	switch l := v.(type) {
	case bson.A:
		return l
	case []any:
		return l
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
