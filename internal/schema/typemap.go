package schema

// ColumnType is the physical SQLite column type a scalar field projects to.
type ColumnType string

const (
	ColumnText    ColumnType = "TEXT"
	ColumnInteger ColumnType = "INTEGER"
	ColumnReal    ColumnType = "REAL"
)

// MapType maps a scalar field type to its physical column type.
// The mapping is pure: the same type token always yields the same column
// type. Array, object and $self fields have no projection column and are
// rejected here; callers filter them out with IsScalar first.
func MapType(t FieldType) (ColumnType, error) {
	switch t {
	case TypeString:
		return ColumnText, nil
	case TypeInteger:
		return ColumnInteger, nil
	case TypeNumber:
		return ColumnReal, nil
	case TypeBoolean:
		// SQLite has no boolean affinity; stored as 0/1.
		return ColumnInteger, nil
	default:
		return "", &UnsupportedTypeError{Token: string(t)}
	}
}

// Widens reports whether changing a field from one type to another is a
// declared widening conversion. Only integer→number qualifies: every
// integer is representable as a REAL, so no stored value is lost.
func Widens(from, to FieldType) bool {
	return from == TypeInteger && to == TypeNumber
}
