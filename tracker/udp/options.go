package udp

// BEP 41 option types.
const (
	optionTypeEndOfOptions = 0
	optionTypeNOP          = 1
	optionTypeURLData      = 2
)

// Extensions appended to announce requests. See BEP 41.
type Options struct {
	// The path and query of the tracker URL, which some trackers use to route or authenticate.
	RequestUri string
}

func (opts Options) Encode() (ret []byte) {
	for s := opts.RequestUri; s != ""; {
		l := min(len(s), 255)
		ret = append(ret, optionTypeURLData, byte(l))
		ret = append(ret, s[:l]...)
		s = s[l:]
	}
	return
}

// DecodeOptions is the inverse of Encode, for trackers. Unknown option types end decoding.
func DecodeOptions(b []byte) (opts Options) {
	for len(b) != 0 {
		switch b[0] {
		case optionTypeEndOfOptions:
			return
		case optionTypeNOP:
			b = b[1:]
		case optionTypeURLData:
			if len(b) < 2 || len(b) < 2+int(b[1]) {
				return
			}
			opts.RequestUri += string(b[2 : 2+int(b[1])])
			b = b[2+int(b[1]):]
		default:
			return
		}
	}
	return
}
