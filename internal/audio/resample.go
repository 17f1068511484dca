package audio

// Sample rates of the two legs. The telephony platform streams G.711 at
// 8 kHz; the model's pcm16 format runs at 24 kHz.
const (
	TelephonyRate = 8000
	ModelPCMRate  = 24000
)

// ResamplePCM16 converts a little-endian PCM16 frame between sample rates
// using linear interpolation. A trailing odd byte is dropped. Same-rate or
// empty input is returned unchanged.
func ResamplePCM16(frame []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(frame) < 2 {
		return frame
	}

	n := len(frame) / 2
	in := make([]int16, n)
	for i := 0; i < n; i++ {
		in[i] = int16(frame[2*i]) | int16(frame[2*i+1])<<8
	}

	outN := n * toRate / fromRate
	out := make([]byte, 2*outN)
	for i := 0; i < outN; i++ {
		num := i * fromRate
		j := num / toRate
		var s int16
		if j >= n-1 {
			s = in[n-1]
		} else {
			rem := int32(num % toRate)
			a := int32(in[j])
			b := int32(in[j+1])
			s = int16(a + (b-a)*rem/int32(toRate))
		}
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
