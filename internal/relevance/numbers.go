package relevance

import "strconv"

const (
	combiningKeycap = '\u20e3'     // COMBINING ENCLOSING KEYCAP
	variationSel16  = '\ufe0f'     // VARIATION SELECTOR-16
	keycapTen       = '\U0001F51F' // 🔟
)

// extractNumbers pulls every numeric mention out of a message body: plain
// ASCII digit runs plus emoji keycap-digit sequences. "budget 1️⃣2️⃣0️⃣"
// yields 120; "500-700" yields 500 and 700. Runs too long for an int64 are
// dropped rather than truncated.
func extractNumbers(body string) []int64 {
	var nums []int64
	flush := func(digits string) {
		if digits == "" {
			return
		}
		if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
			nums = append(nums, n)
		}
	}

	runes := []rune(body)

	// ASCII digit runs.
	var run []rune
	for _, r := range runes {
		if r >= '0' && r <= '9' {
			run = append(run, r)
			continue
		}
		// Digits that are part of a keycap glyph belong to the emoji scan.
		if (r == variationSel16 || r == combiningKeycap) && len(run) > 0 {
			run = run[:len(run)-1]
		}
		flush(string(run))
		run = run[:0]
	}
	flush(string(run))

	// Keycap emoji sequences: digit [U+FE0F] U+20E3, plus the dedicated 🔟.
	var emoji []byte
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == keycapTen {
			emoji = append(emoji, '1', '0')
			continue
		}

		if r >= '0' && r <= '9' {
			j := i + 1
			if j < len(runes) && runes[j] == variationSel16 {
				j++
			}
			if j < len(runes) && runes[j] == combiningKeycap {
				emoji = append(emoji, byte(r))
				i = j
				continue
			}
		}

		flush(string(emoji))
		emoji = emoji[:0]
	}
	flush(string(emoji))

	return nums
}

// anyInRange reports whether at least one number falls within the inclusive
// [minBound, maxBound] window; a nil bound is unbounded on that side.
func anyInRange(nums []int64, minBound, maxBound *int64) bool {
	for _, n := range nums {
		if minBound != nil && n < *minBound {
			continue
		}
		if maxBound != nil && n > *maxBound {
			continue
		}
		return true
	}
	return false
}
