package mockengine

import "strings"

var romajiTable = map[string]string{
	"a": "あ", "i": "い", "u": "う", "e": "え", "o": "お",
	"ka": "か", "ki": "き", "ku": "く", "ke": "け", "ko": "こ",
	"ga": "が", "gi": "ぎ", "gu": "ぐ", "ge": "げ", "go": "ご",
	"sa": "さ", "shi": "し", "si": "し", "su": "す", "se": "せ", "so": "そ",
	"za": "ざ", "ji": "じ", "zi": "じ", "zu": "ず", "ze": "ぜ", "zo": "ぞ",
	"ta": "た", "chi": "ち", "ti": "ち", "tsu": "つ", "tu": "つ", "te": "て", "to": "と",
	"da": "だ", "de": "で", "do": "ど",
	"na": "な", "ni": "に", "nu": "ぬ", "ne": "ね", "no": "の",
	"ha": "は", "hi": "ひ", "fu": "ふ", "hu": "ふ", "he": "へ", "ho": "ほ",
	"ba": "ば", "bi": "び", "bu": "ぶ", "be": "べ", "bo": "ぼ",
	"pa": "ぱ", "pi": "ぴ", "pu": "ぷ", "pe": "ぺ", "po": "ぽ",
	"ma": "ま", "mi": "み", "mu": "む", "me": "め", "mo": "も",
	"ya": "や", "yu": "ゆ", "yo": "よ",
	"ra": "ら", "ri": "り", "ru": "る", "re": "れ", "ro": "ろ",
	"wa": "わ", "wo": "を", "nn": "ん", "-": "ー",
	"kya": "きゃ", "kyu": "きゅ", "kyo": "きょ",
	"sha": "しゃ", "shu": "しゅ", "sho": "しょ",
	"cha": "ちゃ", "chu": "ちゅ", "cho": "ちょ",
	"nya": "にゃ", "nyu": "にゅ", "nyo": "にょ",
	"hya": "ひゃ", "hyu": "ひゅ", "hyo": "ひょ",
	"rya": "りゃ", "ryu": "りゅ", "ryo": "りょ",
	"ja": "じゃ", "ju": "じゅ", "jo": "じょ",
}

// romaji converts typed latin letters to hiragana incrementally.
type romaji struct {
	pending string
}

// feed adds one letter and returns the kana completed by it.
func (r *romaji) feed(c rune) string {
	r.pending += strings.ToLower(string(c))
	var out strings.Builder
	for r.pending != "" {
		if kana, ok := romajiTable[r.pending]; ok && !isPrefix(r.pending, true) {
			out.WriteString(kana)
			r.pending = ""
			break
		}
		if isPrefix(r.pending, false) {
			break
		}
		p := r.pending
		switch {
		case len(p) >= 2 && p[0] == 'n' && !isVowel(p[1]) && p[1] != 'y':
			out.WriteString("ん")
		case len(p) >= 2 && p[0] == p[1] && !isVowel(p[0]):
			out.WriteString("っ")
		default:
			out.WriteString(p[:1])
		}
		r.pending = p[1:]
		if kana, ok := romajiTable[r.pending]; ok && !isPrefix(r.pending, true) {
			out.WriteString(kana)
			r.pending = ""
		}
	}
	return out.String()
}

// flush completes whatever is pending, turning a lone "n" into "ん".
func (r *romaji) flush() string {
	p := r.pending
	r.pending = ""
	if p == "n" {
		return "ん"
	}
	if kana, ok := romajiTable[p]; ok {
		return kana
	}
	return p
}

// backspace drops the last pending letter. It reports false when nothing
// was pending.
func (r *romaji) backspace() bool {
	if r.pending == "" {
		return false
	}
	r.pending = r.pending[:len(r.pending)-1]
	return true
}

// isPrefix reports whether s starts a table entry. strict only counts
// entries longer than s.
func isPrefix(s string, strict bool) bool {
	for k := range romajiTable {
		if !strings.HasPrefix(k, s) {
			continue
		}
		if !strict || len(k) > len(s) {
			return true
		}
	}
	return false
}

func isVowel(c byte) bool {
	return strings.IndexByte("aiueo", c) >= 0
}

// toKatakana maps hiragana to full-width katakana.
func toKatakana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'ぁ' && r <= 'ゖ' {
			return r + 0x60
		}
		return r
	}, s)
}
