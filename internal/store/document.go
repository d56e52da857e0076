package store

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kartikbazzad/modb/internal/dberr"
)

// IDField is the well-known primary-key field every document carries.
const IDField = "_id"

// newObjectID mints a default _id when a caller inserts a document
// without one. A plain UUID stands in for MongoDB's ObjectId: both are
// globally unique, orderable-enough tokens with no coordination
// required across writers.
func newObjectID() string {
	return uuid.NewString()
}

// cloneDocument deep-copies doc so callers never observe a caller's
// later in-place mutation of a map they handed to InsertOne/ReplaceOne.
func cloneDocument(doc map[string]any) map[string]any {
	body, err := json.Marshal(doc)
	if err != nil {
		return copyShallow(doc)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return copyShallow(doc)
	}
	return out
}

func copyShallow(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func decodeDocument(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, dberr.Wrap(dberr.Server, "decoding stored document", err)
	}
	return doc, nil
}

func encodeDocument(doc map[string]any) ([]byte, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, dberr.Wrap(dberr.InvalidArgument, "encoding document", err)
	}
	return body, nil
}
