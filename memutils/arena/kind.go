package arena

// Kind identifies what an allocation inside a device-memory block backs. Linear and optimally-tiled
// resources placed on the same bufferImageGranularity page conflict.
type Kind uint32

const (
	KindUnknown Kind = iota
	KindBuffer
	KindImageLinear
	KindImageOptimal
)

var kindMapping = map[Kind]string{
	KindUnknown:      "Unknown",
	KindBuffer:       "Buffer",
	KindImageLinear:  "ImageLinear",
	KindImageOptimal: "ImageOptimal",
}

func (k Kind) String() string {
	return kindMapping[k]
}

func kindsConflict(first, second Kind) bool {
	if first > second {
		first, second = second, first
	}

	switch first {
	case KindUnknown:
		return true
	case KindBuffer, KindImageLinear:
		return second == KindImageOptimal
	default:
		return false
	}
}
