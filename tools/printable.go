package tools

import "unicode"

type printableType interface {
	~string | ~[]rune | ~[]byte
}

// IsPrintable returns v with every non-printable character removed, so
// client-controlled text can go into a log line as is.
func IsPrintable[T printableType](v T) string {
	var result []rune

	switch v := any(v).(type) {
	case string:
		for _, r := range v {
			if unicode.IsPrint(r) {
				result = append(result, r)
			}
		}
	case []rune:
		for _, r := range v {
			if unicode.IsPrint(r) {
				result = append(result, r)
			}
		}
	case []byte:
		for _, r := range string(v) {
			if unicode.IsPrint(r) {
				result = append(result, r)
			}
		}
	}
	return string(result)
}
