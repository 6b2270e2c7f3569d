package features

import "math"

// shannonBytes 字节级香农熵（bits/byte，0-8）
func shannonBytes(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	n := float64(len(data))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// shannonRunes 字符级香农熵，按首次出现顺序累加保证结果稳定
func shannonRunes(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	order := make([]rune, 0)
	total := 0
	for _, r := range s {
		if counts[r] == 0 {
			order = append(order, r)
		}
		counts[r]++
		total++
	}
	h := 0.0
	for _, r := range order {
		p := float64(counts[r]) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
