package interceptor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
)

var (
	// ErrNotText is returned for content that does not look like a script.
	ErrNotText = errors.New("content is not text")
	// ErrWideEncoding is returned for UTF-16/UTF-32 content, where replacing
	// single CR bytes would corrupt the text.
	ErrWideEncoding = errors.New("content uses a multi-byte line encoding")
)

var (
	crlf = []byte("\r\n")
	cr   = []byte("\r")
	lf   = []byte("\n")
)

// NormalizeLineEndings rewrites CRLF and lone CR line endings to LF.
// Content without CR is returned as is.
func NormalizeLineEndings(data []byte) ([]byte, error) {
	if !bytes.Contains(data, cr) {
		return data, nil
	}
	if err := checkText(data); err != nil {
		return nil, err
	}

	out := bytes.ReplaceAll(data, crlf, lf)
	return bytes.ReplaceAll(out, cr, lf), nil
}

func checkText(data []byte) error {
	isText := false
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			isText = true
			break
		}
	}
	if !isText {
		return ErrNotText
	}

	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil || result.Confidence == 0 {
		return nil
	}
	charset := strings.ToUpper(result.Charset)
	if strings.HasPrefix(charset, "UTF-16") || strings.HasPrefix(charset, "UTF-32") {
		return fmt.Errorf("%w: %s", ErrWideEncoding, result.Charset)
	}
	return nil
}
