package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestFieldCompile(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		prefix string
		want   any
	}{
		{"root field", "label", "", "$label"},
		{"root current", "", "", "$$CURRENT"},
		{"prefixed", "label", "$$this", "$$this.label"},
		{"prefix only", "", "$ground_truth", "$ground_truth"},
		{"absolute", "$filepath", "$$this", "$filepath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, F(tt.path).Compile(tt.prefix))
		})
	}
}

func TestLiteralDollarString(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "$literal", Value: "$x"}}, Lit("$x").Compile(""))
	assert.Equal(t, "x", Lit("x").Compile(""))
}

func TestCallCompile(t *testing.T) {
	got := Multiply(F("bounding_box"), Lit(2)).Compile("$$this")
	assert.Equal(t, bson.D{{Key: "$multiply", Value: bson.A{"$$this.bounding_box", 2}}}, got)
}

func TestMapCompile(t *testing.T) {
	got := MapOf(F("detections"), F("label")).Compile("$predictions")
	want := bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: "$predictions.detections"},
		{Key: "as", Value: "this"},
		{Key: "in", Value: "$$this.label"},
	}}}
	assert.Equal(t, want, got)
}

func TestApplyCompile(t *testing.T) {
	got := ApplyTo(F("label"), ToLower(F(""))).Compile("")
	want := bson.D{{Key: "$let", Value: bson.D{
		{Key: "vars", Value: bson.D{{Key: "expr", Value: "$label"}}},
		{Key: "in", Value: bson.D{{Key: "$toLower", Value: bson.A{"$$expr"}}}},
	}}}
	assert.Equal(t, want, got)
}

func TestFrozenIgnoresPrefix(t *testing.T) {
	got := Freeze(F("filepath")).Compile("$$this")
	assert.Equal(t, "$filepath", got)
}

func TestFieldRefs(t *testing.T) {
	e := Add(F("a.b"), Freeze(F("c")))
	e2 := Add(e, MapOf(F("list"), F("inner")))

	refs := FieldRefs(e2)
	require.Len(t, refs, 2)
	assert.Equal(t, "a.b", refs[0].Path)
	assert.Equal(t, "list", refs[1].Path)
}

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name       string
		in         Expr
		wantPrefix string
		wantExpr   Expr
	}{
		{
			name:       "shared prefix",
			in:         Multiply(F("gt.detections.w"), F("gt.detections.h")),
			wantPrefix: "gt.detections",
			wantExpr:   Multiply(F("w"), F("h")),
		},
		{
			name:       "single ref",
			in:         Size(F("gt.detections")),
			wantPrefix: "gt.detections",
			wantExpr:   Size(F("")),
		},
		{
			name:       "no common prefix",
			in:         Add(F("a"), F("b")),
			wantPrefix: "",
			wantExpr:   Add(F("a"), F("b")),
		},
		{
			name:       "stops at shortest",
			in:         Add(F("a.b"), F("a.b.c")),
			wantPrefix: "a.b",
			wantExpr:   Add(F(""), F("c")),
		},
		{
			name:       "literal only",
			in:         Lit(1),
			wantPrefix: "",
			wantExpr:   Lit(1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, out := ExtractPrefix(tt.in)
			assert.Equal(t, tt.wantPrefix, prefix)
			assert.Equal(t, tt.wantExpr, out)
		})
	}
}

func TestExtractPrefixDoesNotMutate(t *testing.T) {
	in := Add(F("a.b"), F("a.c"))
	_, _ = ExtractPrefix(in)
	assert.Equal(t, "a.b", in.Args[0].(Field).Path)
}

func TestEncodeDecode(t *testing.T) {
	in := Cond(
		Gt(Size(FilterOf(F("detections"), Eq(F("label"), Lit("cat")))), Lit(0)),
		Freeze(F("filepath")),
		ReduceOf(F("x"), Add(V("value"), F("")), Lit(0)),
	)

	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, in.Compile("$gt"), out.Compile("$gt"))
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(map[string]any{"kind": "nope"})
	assert.Error(t, err)
}
