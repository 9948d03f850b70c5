package conversion

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

// Preflight rejects files the conversion service would refuse, before any
// upload slot is spent on them.
type Preflight struct {
	MaxPages int
	MaxBytes int64
}

// Check returns the page count for PDFs (1 for images) or an invalid input
// error describing why the file cannot be submitted.
func (p Preflight) Check(path string) (int, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if !constants.IsAllowedDocument(ext) {
		return 0, common.InvalidInputError(fmt.Sprintf("%s: unsupported file type %q", filepath.Base(path), ext))
	}
	st, err := os.Stat(path)
	if err != nil {
		return 0, common.InvalidInputError(fmt.Sprintf("%s: %v", filepath.Base(path), err))
	}
	if st.Size() == 0 {
		return 0, common.InvalidInputError(fmt.Sprintf("%s: empty file", filepath.Base(path)))
	}
	if p.MaxBytes > 0 && st.Size() > p.MaxBytes {
		return 0, common.InvalidInputError(fmt.Sprintf("%s: %d bytes exceeds limit %d", filepath.Base(path), st.Size(), p.MaxBytes))
	}
	if ext != "pdf" {
		return 1, nil
	}

	// pdfcpu would otherwise create a config directory under the user's home.
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, common.InvalidInputError(fmt.Sprintf("%s: invalid pdf: %v", filepath.Base(path), err))
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, common.InvalidInputError(fmt.Sprintf("%s: page count: %v", filepath.Base(path), err))
	}
	if p.MaxPages > 0 && pages > p.MaxPages {
		return pages, common.InvalidInputError(fmt.Sprintf("%s: %d pages exceeds limit %d", filepath.Base(path), pages, p.MaxPages))
	}
	return pages, nil
}
