// Package docs serves the embedded OpenAPI document and a Scalar reference
// page for it.
package docs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"html/template"
	"net/http"

	"github.com/vidstream/vidstream/internal/httputil"
)

const (
	specPath  = "/api/docs/openapi.yaml"
	scalarCDN = "https://cdn.jsdelivr.net"
)

//go:embed openapi.yaml
var specYAML []byte

var specETag = func() string {
	sum := sha256.Sum256(specYAML)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}()

func HandleSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", specETag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == specETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(specYAML)
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html><head>
  <title>VidStream API Reference</title>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
</head><body>
  <script nonce="{{.Nonce}}" id="api-reference" data-url="{{.SpecURL}}"></script>
  <script nonce="{{.Nonce}}" src="{{.CDN}}/npm/@scalar/api-reference"></script>
</body></html>`))

// HandleDocs renders the reference page. Scripts are allowed by the
// request nonce; Scalar injects its own styles, so style-src stays inline.
func HandleDocs(w http.ResponseWriter, r *http.Request) {
	nonce := httputil.Nonce(r.Context())
	if nonce == "" {
		var err error
		if nonce, err = httputil.NewNonce(); err != nil {
			httputil.InternalError(w, r, "docs: nonce", err)
			return
		}
	}

	var buf bytes.Buffer
	err := docsPage.Execute(&buf, struct {
		Nonce   string
		SpecURL string
		CDN     string
	}{nonce, specPath, scalarCDN})
	if err != nil {
		httputil.InternalError(w, r, "docs: render page", err)
		return
	}

	w.Header().Set("Content-Security-Policy",
		"default-src 'self'; "+
			"script-src 'self' "+scalarCDN+" 'nonce-"+nonce+"'; "+
			"style-src 'self' "+scalarCDN+" 'unsafe-inline'; "+
			"font-src 'self' "+scalarCDN+" data:; "+
			"img-src 'self' data:; connect-src 'self'; frame-ancestors 'self';")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
