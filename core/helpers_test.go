package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func detectionFields() []*Field {
	return []*Field{
		{Name: "id", DBField: "_id", Kind: KindObjectID},
		{Name: "label", Kind: KindString},
		{Name: "confidence", Kind: KindFloat},
		{Name: "bounding_box", Kind: KindList, Elem: &Field{Kind: KindFloat}},
		{Name: "tags", Kind: KindList, Elem: &Field{Kind: KindString}},
		{Name: "attributes", Kind: KindDict},
	}
}

func detectionsField(name string) *Field {
	return &Field{
		Name:    name,
		Kind:    KindEmbedded,
		DocType: "Detections",
		Fields: []*Field{{
			Name: "detections",
			Kind: KindList,
			Elem: &Field{Kind: KindEmbedded, DocType: "Detection", Fields: detectionFields()},
		}},
	}
}

func imageCollection() *Collection {
	return &Collection{
		Name:      "samples.images",
		MediaType: MediaImage,
		Fields: []*Field{
			{Name: "id", DBField: "_id", Kind: KindObjectID},
			{Name: "filepath", Kind: KindString},
			{Name: "tags", Kind: KindList, Elem: &Field{Kind: KindString}},
			{Name: "uniqueness", Kind: KindFloat},
			{Name: "created_at", Kind: KindDateTime},
			{Name: "custom", Kind: KindDict},
			{Name: "metadata", Kind: KindEmbedded, DocType: "ImageMetadata", Fields: []*Field{
				{Name: "width", Kind: KindInt},
				{Name: "height", Kind: KindInt},
			}},
			detectionsField("ground_truth"),
		},
		DocTypes: map[string][]*Field{
			"Detection":     detectionFields(),
			"Detections":    detectionsField("").Fields,
			"ImageMetadata": nil,
		},
	}
}

func videoCollection() *Collection {
	return &Collection{
		Name:      "samples.videos",
		MediaType: MediaVideo,
		Fields: []*Field{
			{Name: "id", DBField: "_id", Kind: KindObjectID},
			{Name: "filepath", Kind: KindString},
		},
		FrameFields: []*Field{
			{Name: "frame_number", Kind: KindFrameNumber},
			detectionsField("detections"),
		},
	}
}

func groupCollection() *Collection {
	return &Collection{
		Name:         "samples.groups",
		MediaType:    MediaGroup,
		GroupField:   "group",
		DefaultSlice: "left",
		Slices:       []string{"left", "right"},
		Fields: []*Field{
			{Name: "id", DBField: "_id", Kind: KindObjectID},
			{Name: "filepath", Kind: KindString},
			{Name: "group", Kind: KindEmbedded, DocType: "Group", Fields: []*Field{
				{Name: "id", DBField: "_id", Kind: KindObjectID},
				{Name: "name", Kind: KindString},
			}},
		},
	}
}

func newTestCompiler(coll *Collection) *compiler {
	return &compiler{ctx: context.Background(), coll: coll, log: zap.NewNop()}
}

func mustCompile(t *testing.T, coll *Collection, agg Aggregation) *Compiled {
	t.Helper()
	cp, err := newTestCompiler(coll).compile(agg, "")
	require.NoError(t, err)
	return cp
}

// stageNames returns the stage operators of a compiled aggregation,
// including the frames lookup
func stageNames(cp *Compiled) []string {
	return cp.prefix.Append(cp.stages...).Names()
}

// fakeExecutor answers every pipeline with fn
type fakeExecutor struct {
	fn    func(pipeline bson.A) ([]bson.M, error)
	calls []bson.A
}

func (f *fakeExecutor) Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error) {
	f.calls = append(f.calls, pipeline)
	return f.fn(pipeline)
}

// stageOf returns the first rendered stage named op of pipeline
func stageOf(pipeline bson.A, op string) (any, bool) {
	for _, s := range pipeline {
		d, ok := s.(bson.D)
		if ok && len(d) == 1 && d[0].Key == op {
			return d[0].Value, true
		}
	}
	return nil, false
}
