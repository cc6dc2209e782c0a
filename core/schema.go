package core

import (
	"sort"
	"strings"

	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Schema reports the types observed for each key of an embedded document
// field. DynamicOnly drops the keys declared on the collection and private
// keys (starting with an underscore) are dropped unless IncludePrivate.
type Schema struct {
	Field          string    `mapstructure:"field"`
	Expr           expr.Expr `mapstructure:"expr"`
	Safe           bool      `mapstructure:"safe"`
	DynamicOnly    bool      `mapstructure:"dynamic_only"`
	IncludePrivate bool      `mapstructure:"include_private"`
	UUID           string    `hash:"ignore"`
}

func (Schema) Kind() string        { return "Schema" }
func (a Schema) FieldName() string { return a.Field }
func (Schema) isAggregation()      {}

// ListSchema reports the types observed for the elements of a list field
type ListSchema struct {
	Field string    `mapstructure:"field"`
	Expr  expr.Expr `mapstructure:"expr"`
	Safe  bool      `mapstructure:"safe"`
	UUID  string    `hash:"ignore"`
}

func (ListSchema) Kind() string        { return "ListSchema" }
func (a ListSchema) FieldName() string { return a.Field }
func (ListSchema) isAggregation()      {}

// FieldType is an observed field type. DocType names the class of embedded
// documents and is empty when it is unknown.
type FieldType struct {
	Kind    FieldKind
	DocType string
}

// FieldTypes holds every type observed for a field, sorted by kind
type FieldTypes []FieldType

type SchemaResult map[string]FieldTypes

// typeTag renders "<bson type>[.<class>]" for the value of e
func typeTag(e expr.Expr) expr.Expr {
	return expr.Concat(
		expr.Type(e),
		expr.Cond(
			expr.Eq(expr.Type(e), expr.Lit("object")),
			expr.Concat(expr.Lit("."), expr.IfNull(fieldOf(e, "_cls"), expr.Lit("None"))),
			expr.Lit(""),
		),
	)
}

func fieldOf(e expr.Expr, name string) expr.Expr {
	if f, ok := e.(expr.Field); ok && f.Path != "" {
		return expr.F(f.Path + "." + name)
	}
	return expr.ApplyTo(e, expr.F(name))
}

func (c *compiler) compileSchema(a Schema, ctxPath string) (*Compiled, error) {
	rp, err := c.resolve(a.Kind(), a.Field, a.Expr, a.Safe, UnwindAll, ctxPath)
	if err != nil {
		return nil, err
	}

	entry := expr.Concat(expr.F("fields.k"), expr.Lit("."), typeTag(expr.F("fields.v")))

	cp := newCompiled(rp, func() any { return SchemaResult{} })
	cp.stages = rp.stages.Append(
		stage.MatchExpr(expr.Eq(expr.Type(expr.F(rp.path)), expr.Lit("object")).Compile("")),
		stage.Project{Fields: bson.D{{Key: "fields", Value: expr.Op("$objectToArray", expr.F(rp.path)).Compile("")}}},
		stage.Unwind{Path: "fields"},
		stage.Group{Fields: []stage.Accumulator{{Name: "schema", Op: "$addToSet", Arg: entry.Compile("")}}},
	)

	var declared map[string]bool
	if a.DynamicOnly && a.Expr == nil {
		declared = map[string]bool{}
		if f := c.coll.GetField(a.Field); f != nil {
			for _, sub := range f.children() {
				declared[sub.Name] = true
				declared[sub.dbName()] = true
			}
		}
	}

	coll, log := c.coll, c.log
	cp.parse = func(docs []bson.M) (any, error) {
		found := map[string][]FieldType{}
		for _, v := range asList(firstDoc(docs, "schema")) {
			s, ok := v.(string)
			if !ok {
				continue
			}
			parts := strings.SplitN(s, ".", 3)
			if len(parts) < 2 {
				continue
			}
			name := parts[0]
			if name == "_id" {
				name = "id"
			}
			if !a.IncludePrivate && strings.HasPrefix(name, "_") {
				continue
			}
			if declared[name] {
				continue
			}
			cls := ""
			if len(parts) == 3 {
				cls = parts[2]
			}
			ft, ok := fieldTypeOf(coll, log, name, parts[1], cls)
			if !ok {
				continue
			}
			found[name] = addType(found[name], ft)
		}

		res := SchemaResult{}
		for name, types := range found {
			res[name] = collapseNumeric(types)
		}
		return res, nil
	}
	return cp, nil
}

func (c *compiler) compileListSchema(a ListSchema, ctxPath string) (*Compiled, error) {
	rp, err := c.resolve(a.Kind(), a.Field, a.Expr, a.Safe, UnwindAll, ctxPath)
	if err != nil {
		return nil, err
	}

	cp := newCompiled(rp, func() any { return FieldTypes{} })
	cp.stages = rp.stages.Append(stage.Group{Fields: []stage.Accumulator{
		{Name: "schema", Op: "$addToSet", Arg: typeTag(expr.F(rp.path)).Compile("")},
	}})

	coll, log, field := c.coll, c.log, a.Field
	cp.parse = func(docs []bson.M) (any, error) {
		var types []FieldType
		for _, v := range asList(firstDoc(docs, "schema")) {
			s, ok := v.(string)
			if !ok {
				continue
			}
			parts := strings.SplitN(s, ".", 2)
			cls := ""
			if len(parts) == 2 {
				cls = parts[1]
			}
			if ft, ok := fieldTypeOf(coll, log, field, parts[0], cls); ok {
				types = addType(types, ft)
			}
		}
		if types == nil {
			return FieldTypes{}, nil
		}
		return FieldTypes(types), nil
	}
	return cp, nil
}

// fieldTypeOf maps a bson type name to a field type. Unknown document
// classes are reported as embedded documents of unknown type.
func fieldTypeOf(coll *Collection, log *zap.Logger, field, bsonType, cls string) (FieldType, bool) {
	switch bsonType {
	case "double", "decimal":
		return FieldType{Kind: KindFloat}, true
	case "int", "long":
		return FieldType{Kind: KindInt}, true
	case "string":
		return FieldType{Kind: KindString}, true
	case "bool":
		return FieldType{Kind: KindBool}, true
	case "date":
		return FieldType{Kind: KindDateTime}, true
	case "objectId":
		return FieldType{Kind: KindObjectID}, true
	case "array":
		return FieldType{Kind: KindList}, true
	case "binData":
		return FieldType{Kind: KindVector}, true
	case "object":
		if cls == "" || cls == "None" {
			return FieldType{Kind: KindDict}, true
		}
		if len(coll.DocTypes) != 0 {
			if _, ok := coll.docTypeFields(cls); !ok {
				log.Warn("unknown embedded document type",
					zap.String("collection", coll.Name),
					zap.String("field", field),
					zap.String("doc_type", cls))
				return FieldType{Kind: KindEmbedded}, true
			}
		}
		return FieldType{Kind: KindEmbedded, DocType: cls}, true
	}
	return FieldType{}, false
}

func addType(types []FieldType, ft FieldType) []FieldType {
	for _, t := range types {
		if t == ft {
			return types
		}
	}
	types = append(types, ft)
	sort.Slice(types, func(i, j int) bool {
		if types[i].Kind != types[j].Kind {
			return types[i].Kind < types[j].Kind
		}
		return types[i].DocType < types[j].DocType
	})
	return types
}

// collapseNumeric reports a mix of ints and floats as floats
func collapseNumeric(types []FieldType) FieldTypes {
	if len(types) == 2 {
		hasInt, hasFloat := false, false
		for _, t := range types {
			hasInt = hasInt || t.Kind == KindInt
			hasFloat = hasFloat || t.Kind == KindFloat
		}
		if hasInt && hasFloat {
			return FieldTypes{{Kind: KindFloat}}
		}
	}
	return FieldTypes(types)
}
