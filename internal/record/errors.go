package record

import "fmt"

// NotFoundError reports an unknown record id within a structure.
type NotFoundError struct {
	Structure string
	ID        int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %d not found in structure %q", e.ID, e.Structure)
}

// UnfilterableFieldError reports a filter or sort on a field that has no
// projection column. Nested fields live only inside the document column
// and cannot serve relational filters.
type UnfilterableFieldError struct {
	Structure string
	Field     string
}

func (e *UnfilterableFieldError) Error() string {
	return fmt.Sprintf("field %q of structure %q has no projection column and cannot be filtered or sorted", e.Field, e.Structure)
}
