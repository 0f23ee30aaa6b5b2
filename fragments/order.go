package fragments

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// ByteOrder is a byte order capable of encoding both primitive values
// and the D-Bus endianness flag byte ('l' or 'B') that opens every
// message.
type ByteOrder interface {
	byteOrder
	dbusFlag() byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type wrapStd struct {
	byteOrder
}

func (w wrapStd) dbusFlag() byte {
	switch w.byteOrder {
	case binary.BigEndian:
		return 'B'
	case binary.LittleEndian:
		return 'l'
	case binary.NativeEndian:
		if cpu.IsBigEndian {
			return 'B'
		}
		return 'l'
	default:
		panic("unknown ByteOrder implementation")
	}
}

// ByteOrderForFlag returns the ByteOrder corresponding to a D-Bus
// endianness flag byte, or false if flag is not a recognized value.
func ByteOrderForFlag(flag byte) (ByteOrder, bool) {
	switch flag {
	case 'B':
		return BigEndian, true
	case 'l':
		return LittleEndian, true
	default:
		return nil, false
	}
}

var (
	// BigEndian is the D-Bus 'B' byte order.
	BigEndian = wrapStd{binary.BigEndian}
	// LittleEndian is the D-Bus 'l' byte order.
	LittleEndian = wrapStd{binary.LittleEndian}
	// NativeEndian is the host's byte order, used by default for
	// newly opened connections.
	NativeEndian = wrapStd{binary.NativeEndian}
)
