package serv

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dosco/aggjin/core"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// aggregateRequest is the body of the aggregate and compile endpoints
type aggregateRequest struct {
	Collection   *core.Collection `json:"collection"`
	Aggregations []core.Dict      `json:"aggregations"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func healthCheckHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func aggregateHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coll, aggs, err := s.readRequest(w, r)
		if err != nil {
			s.renderErr(w, err)
			return
		}

		res, err := s.aj.Aggregate(r.Context(), coll, aggs...)
		if err != nil {
			s.renderErr(w, err)
			return
		}

		results := make(bson.A, len(aggs))
		for i, agg := range aggs {
			results[i] = bson.D{
				{Key: "kind", Value: agg.Kind()},
				{Key: "field", Value: agg.FieldName()},
				{Key: "result", Value: core.Plain(res[i])},
			}
		}
		s.writeExtJSON(w, bson.D{{Key: "results", Value: results}})
	}
}

func compileHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coll, aggs, err := s.readRequest(w, r)
		if err != nil {
			s.renderErr(w, err)
			return
		}

		pipelines := make(bson.A, len(aggs))
		for i, agg := range aggs {
			cp, err := s.aj.Compile(r.Context(), coll, agg)
			if err != nil {
				s.renderErr(w, err)
				return
			}
			pipelines[i] = bson.D{
				{Key: "kind", Value: cp.Kind},
				{Key: "field", Value: cp.Field},
				{Key: "pipeline", Value: cp.Pipeline()},
			}
		}
		s.writeExtJSON(w, bson.D{{Key: "pipelines", Value: pipelines}})
	}
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func (s *Service) readRequest(w http.ResponseWriter, r *http.Request) (*core.Collection, []core.Aggregation, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.conf.bodyLimit())

	var req aggregateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, nil, badRequest("invalid request body: %s", err)
	}

	if req.Collection == nil || req.Collection.Name == "" {
		return nil, nil, badRequest("collection is required")
	}
	if len(req.Aggregations) == 0 {
		return nil, nil, badRequest("no aggregations")
	}

	aggs := make([]core.Aggregation, len(req.Aggregations))
	for i, d := range req.Aggregations {
		agg, err := core.FromDict(d)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "aggregation %d", i)
		}
		aggs[i] = agg
	}
	return req.Collection, aggs, nil
}

// renderErr maps engine errors to status codes
func (s *Service) renderErr(w http.ResponseWriter, err error) {
	var (
		bre *badRequestError
		ce  *core.ConfigurationError
		se  *core.SchemaResolutionError
		ee  *core.EngineExecutionError
	)

	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &bre):
		status = http.StatusBadRequest
	case errors.As(err, &ce):
		status = http.StatusBadRequest
		resp.Kind, resp.Field = ce.Kind, ce.Field
	case errors.As(err, &se):
		status = http.StatusUnprocessableEntity
		resp.Kind, resp.Field = se.Kind, se.Path
	case errors.As(err, &ee):
		status = http.StatusBadGateway
		resp.Kind = ee.Kind
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("aggregation failed", zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func (s *Service) writeExtJSON(w http.ResponseWriter, doc bson.D) {
	b, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		s.renderErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b) //nolint:errcheck
}

// writeJSON encodes data as JSON and writes to response, handling errors
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
