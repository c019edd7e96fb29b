package payload

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// DefaultLikeCountFields lists the spellings mutation endpoints use for the like total.
var DefaultLikeCountFields = []string{"likesCount", "likeCount"}

// ExtractCount returns the authoritative count reported by a mutation response.
// Fields are looked up at the top level first, then under "data".
// An empty body or a body without any of the fields reports false.
func ExtractCount(raw []byte, fields []string) (int64, bool) {
	if len(bytes.TrimSpace(raw)) == 0 || !gjson.ValidBytes(raw) {
		return 0, false
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return 0, false
	}
	for _, scope := range []gjson.Result{root, root.Get("data")} {
		if !scope.IsObject() {
			continue
		}
		for _, field := range fields {
			value := scope.Get(field)
			if value.Type == gjson.Number {
				return value.Int(), true
			}
		}
	}
	return 0, false
}
