package dbus

import (
	"context"
	"errors"
	"os"
	"reflect"

	"github.com/fenwick-labs/gobus/fragments"
)

// File is a Unix file descriptor sent or received alongside a DBus
// message. Marshaling a File requires a connection whose transport
// negotiated UNIX_FD support.
type File struct {
	*os.File
}

var fileType = reflect.TypeFor[File]()

func init() {
	// The wire type code 'h' is already claimed by the bare *os.File
	// mapping in typemaps.go; File needs its own reverse-lookup entry
	// so Signature.String prints struct fields declared as dbus.File.
	typeToStr[fileType] = 'h'
}

func (f *File) IsDBusStruct() bool { return false }

var fileSignature = mkSignature(fileType)

func (f *File) SignatureDBus() Signature { return fileSignature }

func (f *File) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	if f.File == nil {
		return errors.New("cannot marshal File: File.File is nil")
	}
	idx, err := contextPutFile(ctx, f.File)
	if err != nil {
		return err
	}
	e.Uint32(idx)
	return nil
}

func (f *File) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	idx, err := d.Uint32()
	if err != nil {
		return err
	}
	file := contextFile(ctx, idx)
	if file == nil {
		return errors.New("cannot unmarshal File: no file descriptor available")
	}
	f.File = file
	return nil
}
