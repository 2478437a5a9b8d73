package proto

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// Message builds a request or response Struct. Document-valued fields may be
// map[string]any; lists of documents must be []map[string]any.
func Message(fields map[string]any) (*structpb.Struct, error) {
	norm := make(map[string]any, len(fields))
	for k, v := range fields {
		if docs, ok := v.([]map[string]any); ok {
			list := make([]any, len(docs))
			for i, d := range docs {
				list[i] = d
			}
			v = list
		}
		norm[k] = v
	}
	return structpb.NewStruct(norm)
}

func String(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func Bool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// Document returns the object stored under key, or nil.
func Document(s *structpb.Struct, key string) map[string]any {
	v := s.GetFields()[key].GetStructValue()
	if v == nil {
		return nil
	}
	return v.AsMap()
}

// Documents returns the list of objects stored under key; non-object items
// are skipped.
func Documents(s *structpb.Struct, key string) []map[string]any {
	list := s.GetFields()[key].GetListValue()
	out := make([]map[string]any, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		if sv := v.GetStructValue(); sv != nil {
			out = append(out, sv.AsMap())
		}
	}
	return out
}
