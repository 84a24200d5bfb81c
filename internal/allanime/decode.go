package allanime

import "strings"

// providerIDMap is the byte-pair substitution table AllAnime uses to
// obfuscate provider paths. Every entry must match the upstream scheme
// exactly; a single wrong mapping silently corrupts a provider URL.
var providerIDMap = map[string]string{
	"01": "9", "08": "0", "05": "=", "0a": "2", "0b": "3",
	"0c": "4", "07": "?", "00": "8", "5c": "d", "0f": "7",
	"5e": "f", "17": "/", "54": "l", "09": "1", "48": "p",
	"4f": "w", "0e": "6", "5b": "c", "5d": "e", "0d": "5",
	"53": "k", "1e": "&", "5a": "b", "59": "a", "4a": "r",
	"4c": "t", "4e": "v", "57": "o", "51": "i",
	"50": "h", "4b": "s", "02": ":", "16": ".", "4d": "u",
	"55": "m", "56": "n", "79": "A", "7a": "B", "7b": "C",
	"7c": "D", "7d": "E", "7e": "F", "7f": "G", "70": "H",
	"71": "I", "72": "J", "73": "K", "74": "L", "75": "M",
	"76": "N", "77": "O", "68": "P", "69": "Q", "6a": "R",
	"6b": "S", "6c": "T", "6d": "U", "6e": "V", "6f": "W",
	"60": "X", "61": "Y", "62": "Z", "52": "j", "5f": "g",
	"40": "x", "41": "y", "42": "z", "15": "-", "67": "_",
	"46": "~", "1b": "#", "63": "[", "65": "]", "78": "@",
	"19": "!", "1c": "$", "10": "(", "11": ")", "12": "*",
	"13": "+", "14": ",", "03": ";", "1d": "%", "49": "q",
}

// DecodeProviderID turns an obfuscated provider identifier into a real
// path. The input is consumed two characters at a time; unknown pairs
// pass through unchanged, so the function never fails. AllAnime encodes
// manifest-lookup paths without their extension, hence the /clock ->
// /clock.json rewrite.
func DecodeProviderID(encoded string) string {
	var b strings.Builder
	b.Grow(len(encoded) / 2)
	for i := 0; i < len(encoded); i += 2 {
		end := i + 2
		if end > len(encoded) {
			end = len(encoded)
		}
		pair := encoded[i:end]
		if ch, ok := providerIDMap[pair]; ok {
			b.WriteString(ch)
		} else {
			b.WriteString(pair)
		}
	}
	return strings.ReplaceAll(b.String(), "/clock", "/clock.json")
}
