/******************************************************************************
 *
 *  Description :
 *    Frame construction: wraps a message payload as
 *    "[[[<base64-length>]<payload>]]", the wire unit both the post
 *    office and central post office speak over TCP.
 *
 *****************************************************************************/
package wire

import "github.com/SlightlyLoony/MOP/b64num"

// Frame wraps payload as a single wire frame. The length field is
// zero-padded up to minLengthChars (declared in deframer.go), which is
// the de-framer's floor for a well-formed length field.
func Frame(payload []byte) []byte {
	lenStr := b64num.Encode(int64(len(payload)))
	for len(lenStr) < minLengthChars {
		lenStr = "0" + lenStr
	}
	out := make([]byte, 0, len(payload)+len(lenStr)+6)
	out = append(out, '[', '[', '[')
	out = append(out, lenStr...)
	out = append(out, ']')
	out = append(out, payload...)
	out = append(out, ']', ']')
	return out
}
