package stage

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Pipeline is an ordered list of stages.
type Pipeline []Stage

// Render converts the pipeline to the form accepted by the driver.
func (p Pipeline) Render() bson.A {
	out := make(bson.A, 0, len(p))
	for _, s := range p {
		out = append(out, s.Render())
	}
	return out
}

// Append returns a new pipeline with stages added at the end. The receiver
// is never modified.
func (p Pipeline) Append(stages ...Stage) Pipeline {
	out := make(Pipeline, 0, len(p)+len(stages))
	out = append(out, p...)
	return append(out, stages...)
}

// Names returns the stage operators in order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, s := range p {
		names[i] = s.Name()
	}
	return names
}

// String renders the pipeline as relaxed extended JSON.
func (p Pipeline) String() string {
	b, err := bson.MarshalExtJSON(bson.D{{Key: "pipeline", Value: p.Render()}}, false, false)
	if err != nil {
		return "<invalid pipeline: " + err.Error() + ">"
	}
	return string(b)
}
