package tsa

// AuthMode selects the challenge/reply transform a domain's authentication
// key is interpreted under.
type AuthMode uint8

const (
	AuthClassic AuthMode = iota
	AuthOMA
)

func rol8(b byte, n uint) byte { return b<<n | b>>(8-n) }
func ror8(b byte, n uint) byte { return b>>n | b<<(8-n) }

// keySequence returns the ordered sequence of key bytes the encryption
// transform steps over: the classic transform uses the 6-byte key once,
// the OMA transform uses the full 12-byte key once followed by its first
// 6 bytes again ("once over 12 then half over first 6").
func keySequence(mode AuthMode, key [12]byte) []byte {
	if mode == AuthClassic {
		return append([]byte(nil), key[:6]...)
	}
	seq := append([]byte(nil), key[:12]...)
	seq = append(seq, key[:6]...)
	return seq
}

// Encrypt computes the 8-byte authentication transform E(rand, apdu, key,
// omaAddr) used both to issue a challenge reply and to verify one. apdu is
// consumed from its tail; when the key sequence has been walked once and
// apdu bytes remain unconsumed, the key sequence is walked again until the
// whole of apdu (with omaAddr logically appended ahead of it, per the OMA
// "destination bytes prepended to the message" rule) has been folded in.
//
// This must stay bit-exact with the original device firmware for two
// stacks to interoperate; nothing here is tunable.
func Encrypt(rand [8]byte, apdu []byte, key [12]byte, mode AuthMode, omaAddr []byte) [8]byte {
	msg := apdu
	if mode == AuthOMA && len(omaAddr) > 0 {
		msg = append(append([]byte(nil), omaAddr...), apdu...)
	}

	seq := keySequence(mode, key)
	acc := rand
	pos := len(msg)

	for pos > 0 {
		for _, kb := range seq {
			for j := 7; j >= 0; j-- {
				var m byte
				if pos > 0 {
					pos--
					m = msg[pos]
				}
				n := ^(acc[j] + byte(j))
				bit := (kb >> uint(7-j)) & 1
				next := acc[(j+1)%8]
				if bit == 1 {
					acc[j] = next + m + rol8(n, 1)
				} else {
					acc[j] = next + m - ror8(n, 1)
				}
			}
		}
	}

	return acc
}
