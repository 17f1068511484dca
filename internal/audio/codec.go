// Package audio converts between the telephony leg's G.711 μ-law frames and
// the linear PCM16 frames the model leg can be configured to use. Conversion
// is stateless and per-frame; inbound and outbound directions are independent.
package audio

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// EncodeMuLawSample compresses one 16-bit linear PCM sample to 8-bit μ-law.
func EncodeMuLawSample(sample int16) byte {
	var sign byte
	v := int32(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLawSample expands one 8-bit μ-law sample to 16-bit linear PCM.
func DecodeMuLawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	sample := ((int32(mantissa)<<3 + muLawBias) << exponent) - muLawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// MuLawToPCM16 expands a μ-law frame to little-endian PCM16.
func MuLawToPCM16(frame []byte) []byte {
	out := make([]byte, 2*len(frame))
	for i, u := range frame {
		s := DecodeMuLawSample(u)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToMuLaw compresses a little-endian PCM16 frame to μ-law. A trailing
// odd byte is dropped.
func PCM16ToMuLaw(frame []byte) []byte {
	n := len(frame) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(frame[2*i]) | int16(frame[2*i+1])<<8
		out[i] = EncodeMuLawSample(s)
	}
	return out
}
