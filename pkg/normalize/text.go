package normalize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
)

// Text applies newline conversion, trailing whitespace removal and unicode
// normalization, in that order, as far as rules declare them.
func Text(raw string, rules Rules) (string, error) {
	if err := rules.Validate(); err != nil {
		return "", err
	}

	out := raw
	switch rules.NormalizeNewlines {
	case NewlinesLF:
		out = toLF(out)
	case NewlinesCRLF:
		out = strings.ReplaceAll(toLF(out), "\n", "\r\n")
	}

	if rules.StripTrailingWhitespace {
		out = stripTrailing(out)
	}

	if rules.UnicodeForm != "" {
		var err error
		if out, err = unicodeForm(out, rules.UnicodeForm); err != nil {
			return "", err
		}
	}
	return out, nil
}

func toLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// stripTrailing removes spaces and tabs before each line end. A CR before
// LF counts as part of the line end.
func stripTrailing(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		body, cr := strings.CutSuffix(line, "\r")
		body = strings.TrimRight(body, " \t")
		if cr {
			body += "\r"
		}
		lines[i] = body
	}
	return strings.Join(lines, "\n")
}

func unicodeForm(s, form string) (string, error) {
	if !utf8.ValidString(s) {
		return "", kernelerr.NewInvalidInput("text is not valid UTF-8", kernelerr.StageNormalize, nil)
	}
	if form == FormNFD {
		return norm.NFD.String(s), nil
	}
	return norm.NFC.String(s), nil
}
