package dashboard

import (
	"bytes"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/TobiSchelling/ragdash/internal/ragapi"
)

var disablePDFConfig sync.Once

// Pending is a file selected for upload. Pages is shown next to the file
// when the content parses as a PDF; it never blocks the upload.
type Pending struct {
	ragapi.PendingFile
	Pages *int
}

func newPending(f ragapi.PendingFile) Pending {
	p := Pending{PendingFile: f}
	if n, ok := pageCount(f.Content); ok {
		p.Pages = &n
	}
	return p
}

func pageCount(content []byte) (n int, ok bool) {
	if !bytes.HasPrefix(content, []byte("%PDF")) {
		return 0, false
	}
	// Selected files are arbitrary user input; a parser panic means no count.
	defer func() {
		if recover() != nil {
			n, ok = 0, false
		}
	}()
	disablePDFConfig.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	count, err := api.PageCount(bytes.NewReader(content), conf)
	if err != nil {
		return 0, false
	}
	return count, true
}
