package dsnet

import (
	"encoding/json"

	"github.com/pkg/errors"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

// EncodeStruct converts any JSON-serializable value into a structpb.Struct.
func EncodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode struct")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "encode struct")
	}
	return structpb.NewStruct(m)
}

// DecodeStruct fills v from s using the JSON field names of v.
func DecodeStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return errors.New("decode struct: nil payload")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return errors.Wrap(err, "decode struct")
	}
	return errors.Wrap(json.Unmarshal(data, v), "decode struct")
}
