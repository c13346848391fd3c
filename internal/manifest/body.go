package manifest

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// acceptEncoding replaces whatever the page advertised. Browsers send zstd which
// nothing here can decode.
const acceptEncoding = "gzip, br"

// maxBodyBytes caps manifest reads. Real masters and MPDs are far smaller.
const maxBodyBytes = 32 << 20

// readBody returns the decoded response text. Setting Accept-Encoding by hand turns
// off the transport's own gzip handling, so decoding happens here.
func readBody(resp *http.Response) (string, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read manifest body: %w", err)
	}
	return string(body), nil
}
