package capture

// Equalize spreads the histogram of each RGB24 channel over the full
// 0-255 range, in place. A channel holding a single value is left alone.
func Equalize(rgb []byte) {
	n := len(rgb) / 3
	if n == 0 {
		return
	}
	for ch := range 3 {
		var hist [256]int
		for i := ch; i < n*3; i += 3 {
			hist[rgb[i]]++
		}

		cdfMin := 0
		for _, c := range hist {
			if c > 0 {
				cdfMin = c
				break
			}
		}
		if cdfMin == n {
			continue
		}

		var lut [256]byte
		cum := 0
		for v, c := range hist {
			cum += c
			if c > 0 {
				lut[v] = byte((cum - cdfMin) * 255 / (n - cdfMin))
			}
		}
		for i := ch; i < n*3; i += 3 {
			rgb[i] = lut[rgb[i]]
		}
	}
}

// ChannelStats summarizes one color channel.
type ChannelStats struct {
	Min  byte    `json:"min"`
	Max  byte    `json:"max"`
	Mean float64 `json:"mean"`
}

// Stats returns per-channel statistics of an RGB24 buffer.
func Stats(rgb []byte) [3]ChannelStats {
	var out [3]ChannelStats
	n := len(rgb) / 3
	if n == 0 {
		return out
	}
	for ch := range 3 {
		lo, hi, sum := byte(255), byte(0), 0
		for i := ch; i < n*3; i += 3 {
			v := rgb[i]
			lo, hi = min(lo, v), max(hi, v)
			sum += int(v)
		}
		out[ch] = ChannelStats{Min: lo, Max: hi, Mean: float64(sum) / float64(n)}
	}
	return out
}
