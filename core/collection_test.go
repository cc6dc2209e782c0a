package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldName(t *testing.T) {
	tests := []struct {
		name         string
		coll         *Collection
		path         string
		autoUnwind   bool
		omitTerminal bool
		want         ParsedField
	}{
		{
			name: "scalar",
			path: "filepath", autoUnwind: true,
			want: ParsedField{Path: "filepath"},
		},
		{
			name: "terminal list unwound",
			path: "tags", autoUnwind: true,
			want: ParsedField{Path: "tags", UnwindListFields: []string{"tags"}},
		},
		{
			name: "terminal list omitted",
			path: "tags", omitTerminal: true,
			want: ParsedField{Path: "tags"},
		},
		{
			name: "explicit unwind marker",
			path: "tags[]", omitTerminal: true,
			want: ParsedField{Path: "tags", UnwindListFields: []string{"tags"}},
		},
		{
			name: "embedded list unwound",
			path: "ground_truth.detections.label", autoUnwind: true,
			want: ParsedField{
				Path:             "ground_truth.detections.label",
				UnwindListFields: []string{"ground_truth.detections"},
			},
		},
		{
			name: "embedded list kept",
			path: "ground_truth.detections.label", omitTerminal: true,
			want: ParsedField{
				Path:            "ground_truth.detections.label",
				OtherListFields: []string{"ground_truth.detections"},
			},
		},
		{
			name: "nested lists",
			path: "ground_truth.detections.tags", autoUnwind: true,
			want: ParsedField{
				Path:             "ground_truth.detections.tags",
				UnwindListFields: []string{"ground_truth.detections", "ground_truth.detections.tags"},
			},
		},
		{
			name: "mixed explicit and kept",
			path: "ground_truth.detections[].tags", omitTerminal: true,
			want: ParsedField{
				Path:             "ground_truth.detections.tags",
				UnwindListFields: []string{"ground_truth.detections"},
			},
		},
		{
			name: "public id",
			path: "id", autoUnwind: true,
			want: ParsedField{Path: "_id", IDToStr: true},
		},
		{
			name: "storage id",
			path: "_id", autoUnwind: true,
			want: ParsedField{Path: "_id"},
		},
		{
			name: "embedded id",
			path: "ground_truth.detections.id", autoUnwind: true,
			want: ParsedField{
				Path:             "ground_truth.detections._id",
				UnwindListFields: []string{"ground_truth.detections"},
				IDToStr:          true,
			},
		},
		{
			name: "dynamic subpath",
			path: "custom.weather.temp", autoUnwind: true,
			want: ParsedField{Path: "custom.weather.temp"},
		},
		{
			name: "frame field",
			coll: videoCollection(),
			path: "frames.detections.detections.label", autoUnwind: true,
			want: ParsedField{
				Path:             "frames.detections.detections.label",
				IsFrameField:     true,
				UnwindListFields: []string{"frames", "frames.detections.detections"},
			},
		},
		{
			name: "bare frames",
			coll: videoCollection(),
			path: "frames", autoUnwind: true,
			want: ParsedField{Path: "frames", UnwindListFields: []string{"frames"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll := tt.coll
			if coll == nil {
				coll = imageCollection()
			}
			got, err := coll.ParseFieldName(tt.path, tt.autoUnwind, tt.omitTerminal, false)
			require.NoError(t, err)

			assert.Equal(t, tt.want.Path, got.Path)
			assert.Equal(t, tt.want.IsFrameField, got.IsFrameField)
			assert.Equal(t, tt.want.UnwindListFields, got.UnwindListFields)
			assert.Equal(t, tt.want.OtherListFields, got.OtherListFields)
			assert.Equal(t, tt.want.IDToStr, got.IDToStr)
		})
	}
}

func TestParseFieldNameMissing(t *testing.T) {
	coll := imageCollection()

	_, err := coll.ParseFieldName("ground_truth.missing", true, false, false)
	var se *SchemaResolutionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "ground_truth.missing", se.Path)
	assert.Equal(t, coll.Name, se.Collection)

	pf, err := coll.ParseFieldName("ground_truth.missing", true, false, true)
	require.NoError(t, err)
	assert.Equal(t, "ground_truth.missing", pf.Path)
	assert.Nil(t, pf.Field)
}

func TestGetField(t *testing.T) {
	coll := imageCollection()

	f := coll.GetField("ground_truth.detections.confidence")
	require.NotNil(t, f)
	assert.Equal(t, KindFloat, f.Kind)

	f = coll.GetField("ground_truth.detections")
	require.NotNil(t, f)
	assert.True(t, f.IsList())
	assert.Equal(t, "Detection", f.leaf().DocType)

	assert.Nil(t, coll.GetField("nope"))
	assert.NotNil(t, videoCollection().GetField("frames.detections"))
	assert.Nil(t, coll.GetField("frames"))
}

func TestGroupSlices(t *testing.T) {
	coll := groupCollection()
	assert.Equal(t, []string{"left", "right"}, coll.GroupSlices("filepath"))
	assert.Nil(t, coll.GroupSlices("group.name"))
	assert.Nil(t, imageCollection().GroupSlices("filepath"))
}
