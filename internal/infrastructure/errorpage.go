package infrastructure

import (
	"fmt"
	"os"
	"sync"
)

// DefaultErrorPage is served when no error document is configured or the
// configured one cannot be read.
var DefaultErrorPage = []byte(`<!DOCTYPE html>
<html>
  <head><title>Service Unavailable</title></head>
  <body>
    <h1>Service Unavailable</h1>
    <p>The server is temporarily unable to handle your request. Please try again later.</p>
  </body>
</html>
`)

// FileErrorPage loads the synthetic error document from disk once.
type FileErrorPage struct {
	path string

	once sync.Once
	body []byte
	err  error
}

// NewFileErrorPage creates a loader for path. An empty path serves
// DefaultErrorPage.
func NewFileErrorPage(path string) *FileErrorPage {
	return &FileErrorPage{path: path}
}

// Load returns the document. A read failure returns DefaultErrorPage along
// with the error.
func (p *FileErrorPage) Load() ([]byte, error) {
	p.once.Do(func() {
		if p.path == "" {
			p.body = DefaultErrorPage
			return
		}
		body, err := os.ReadFile(p.path)
		if err != nil {
			p.body = DefaultErrorPage
			p.err = fmt.Errorf("failed to read error page %s: %w", p.path, err)
			return
		}
		p.body = body
	})
	return p.body, p.err
}
