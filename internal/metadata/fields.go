package metadata

import (
	"strings"

	"github.com/koustreak/featureserv/internal/schema"
)

var conventionalIDNames = []string{"id", "objectid", "fid", "gid", "pk"}

// IDField picks the object-id column: the integer field whose name comes
// first in conventionalIDNames, else the first integer field, else "".
func IDField(fields []schema.FieldDescriptor) string {
	for _, name := range conventionalIDNames {
		for _, f := range fields {
			if f.Type.IsInteger() && strings.EqualFold(f.Name, name) {
				return f.Name
			}
		}
	}
	for _, f := range fields {
		if f.Type.IsInteger() {
			return f.Name
		}
	}
	return ""
}

// DisplayField picks the field clients label features with: the first
// string field, else the first non-date field, else the first field.
func DisplayField(fields []schema.FieldDescriptor) string {
	for _, f := range fields {
		if f.Type == schema.FieldString {
			return f.Name
		}
	}
	for _, f := range fields {
		if f.Type != schema.FieldDate {
			return f.Name
		}
	}
	if len(fields) > 0 {
		return fields[0].Name
	}
	return ""
}
