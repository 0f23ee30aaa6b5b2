package dbus

import (
	"os"
	"reflect"

	"github.com/creachadair/mds/mapset"
)

// basicType records the correspondence between a D-Bus basic type
// code, its canonical Go representation, and (for types that aren't
// already a distinct Go kind, like ObjectPath) the reflect.Type that
// owns the code.
type basicType struct {
	code byte
	typ  reflect.Type
	kind reflect.Kind
}

var basicTypes = []basicType{
	{'b', reflect.TypeFor[bool](), reflect.Bool},
	{'y', reflect.TypeFor[uint8](), reflect.Uint8},
	{'n', reflect.TypeFor[int16](), reflect.Int16},
	{'q', reflect.TypeFor[uint16](), reflect.Uint16},
	{'i', reflect.TypeFor[int32](), reflect.Int32},
	{'u', reflect.TypeFor[uint32](), reflect.Uint32},
	{'x', reflect.TypeFor[int64](), reflect.Int64},
	{'t', reflect.TypeFor[uint64](), reflect.Uint64},
	{'d', reflect.TypeFor[float64](), reflect.Float64},
	{'s', reflect.TypeFor[string](), reflect.String},
}

// namedBasicTypes are basic types whose Go representation is a named
// type rather than a bare kind, so they need an explicit reflect.Type
// mapping in both directions instead of a kind-based one.
var namedBasicTypes = []basicType{
	{'v', reflect.TypeFor[any](), reflect.Interface},
	{'g', reflect.TypeFor[Signature](), reflect.Struct},
	{'o', reflect.TypeFor[ObjectPath](), reflect.String},
	{'h', reflect.TypeFor[*os.File](), reflect.Pointer},
}

var (
	// strToType maps a DBus type signature identifier to its
	// reflect.Type.
	strToType map[byte]reflect.Type
	// typeToStr maps basic DBus types that aren't plain Go kinds to
	// their DBus type signature identifier.
	typeToStr = map[reflect.Type]byte{}
	// kindToStr maps reflect.Kinds to their corresponding DBus type
	// signature identifier, if any.
	kindToStr map[reflect.Kind]byte
	// kindToType maps reflect.Kinds of DBus basic types to their
	// corresponding reflect.Type.
	kindToType map[reflect.Kind]reflect.Type
)

func init() {
	strToType = map[byte]reflect.Type{}
	kindToStr = map[reflect.Kind]byte{}
	kindToType = map[reflect.Kind]reflect.Type{}

	for _, b := range basicTypes {
		strToType[b.code] = b.typ
		kindToStr[b.kind] = b.code
		kindToType[b.kind] = b.typ
	}
	for _, b := range namedBasicTypes {
		strToType[b.code] = b.typ
		typeToStr[b.typ] = b.code
	}
}

// mapKeyKinds is the set of reflect.Kinds that are valid DBus map
// (dict entry) keys.
var mapKeyKinds = mapset.New(
	reflect.Bool,
	reflect.Uint8,
	reflect.Int16,
	reflect.Uint16,
	reflect.Int32,
	reflect.Uint32,
	reflect.Int64,
	reflect.Uint64,
	reflect.Float64,
	reflect.String,
)
