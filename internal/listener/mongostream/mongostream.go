// Package mongostream adapts a MongoDB change stream to the listener's
// ChangeSource contract. Resume tokens cross the boundary as canonical
// extended JSON so the token store stays driver-agnostic.
package mongostream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lodeworks/speedlayer/internal/listener"
)

const defaultMaxAwaitTime = 250 * time.Millisecond

// Server error codes that mean the resume position has aged out of the
// oplog: ChangeStreamHistoryLost, ChangeStreamFatalError and the capped
// collection variant.
var historyLostCodes = []int{136, 260, 280, 286}

// Source opens change streams against one MongoDB database.
type Source struct {
	db           *mongo.Database
	maxAwaitTime time.Duration
}

func NewSource(db *mongo.Database) *Source {
	return &Source{db: db, maxAwaitTime: defaultMaxAwaitTime}
}

func (s *Source) Watch(ctx context.Context, opts listener.WatchOptions) (listener.ChangeCursor, error) {
	match := bson.D{}
	if len(opts.Collections) > 0 {
		match = append(match, bson.E{Key: "ns.coll", Value: bson.M{"$in": opts.Collections}})
	}
	if len(opts.Operations) > 0 {
		match = append(match, bson.E{Key: "operationType", Value: bson.M{"$in": opts.Operations}})
	}
	pipeline := mongo.Pipeline{}
	if len(match) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}

	csOpts, err := s.streamOptions(opts.ResumeToken)
	if err != nil {
		return nil, err
	}

	cs, err := s.db.Watch(ctx, pipeline, csOpts)
	if err != nil {
		return nil, mapStreamError(err)
	}
	return &cursor{cs: cs}, nil
}

// streamOptions builds the change stream options. The before-change image
// must be requested explicitly or the server omits fullDocumentBeforeChange
// entirely; WhenAvailable degrades to no image on collections without
// pre-images enabled instead of failing the stream.
func (s *Source) streamOptions(resumeToken string) (*options.ChangeStreamOptions, error) {
	csOpts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable).
		SetMaxAwaitTime(s.maxAwaitTime)

	if resumeToken != "" {
		var token bson.D
		if err := bson.UnmarshalExtJSON([]byte(resumeToken), true, &token); err != nil {
			return nil, fmt.Errorf("decode resume token: %w", err)
		}
		csOpts.SetResumeAfter(token)
	}
	return csOpts, nil
}

type cursor struct {
	cs *mongo.ChangeStream
}

// changeDocument is the subset of the change stream event we consume.
type changeDocument struct {
	OperationType string              `bson:"operationType"`
	FullDocument  bson.M              `bson:"fullDocument"`
	BeforeDoc     bson.M              `bson:"fullDocumentBeforeChange"`
	DocumentKey   bson.M              `bson:"documentKey"`
	Namespace     namespace           `bson:"ns"`
	UpdateDesc    updateDesc          `bson:"updateDescription"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
}

type namespace struct {
	Collection string `bson:"coll"`
}

type updateDesc struct {
	UpdatedFields bson.M   `bson:"updatedFields"`
	RemovedFields []string `bson:"removedFields"`
}

func (c *cursor) TryNext(ctx context.Context) (*listener.Change, error) {
	if !c.cs.TryNext(ctx) {
		if err := c.cs.Err(); err != nil {
			return nil, mapStreamError(err)
		}
		return nil, nil
	}

	var doc changeDocument
	if err := c.cs.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode change document: %w", err)
	}

	change := &listener.Change{
		Token:          c.cs.ResumeToken().String(),
		Collection:     doc.Namespace.Collection,
		DocumentID:     documentID(doc.DocumentKey),
		Operation:      doc.OperationType,
		Document:       normalizeDocument(doc.FullDocument),
		BeforeDocument: normalizeDocument(doc.BeforeDoc),
		ChangedFields:  changedFields(doc.UpdateDesc),
		Timestamp:      time.Unix(int64(doc.ClusterTime.T), 0).UTC(),
	}
	return change, nil
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cs.Close(ctx)
}

func documentID(key bson.M) string {
	id, ok := key["_id"]
	if !ok {
		return ""
	}
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func changedFields(desc updateDesc) []string {
	if len(desc.UpdatedFields) == 0 && len(desc.RemovedFields) == 0 {
		return nil
	}
	fields := make([]string, 0, len(desc.UpdatedFields)+len(desc.RemovedFields))
	for k := range desc.UpdatedFields {
		fields = append(fields, k)
	}
	fields = append(fields, desc.RemovedFields...)
	return fields
}

// normalizeDocument converts BSON-native values into plain Go values so the
// rest of the pipeline never touches driver types.
func normalizeDocument(doc bson.M) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return val.Data
	case bson.M:
		return normalizeDocument(val)
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return val
	}
}

func mapStreamError(err error) error {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		for _, code := range historyLostCodes {
			if serverErr.HasErrorCode(code) {
				return fmt.Errorf("%w: %v", listener.ErrHistoryLost, err)
			}
		}
	}
	return err
}
