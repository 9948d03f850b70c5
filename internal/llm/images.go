package llm

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/docextract/constants"
)

// ImageDataURL reads path and encodes it as a data URL. Files larger than
// maxBytes are rejected so a single figure cannot blow the request size.
func ImageDataURL(path string, maxBytes int64) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if maxBytes > 0 && st.Size() > maxBytes {
		return "", fmt.Errorf("image %s is %d bytes, limit %d", filepath.Base(path), st.Size(), maxBytes)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "data:" + imageMIME(path) + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}

func imageMIME(path string) string {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if mt := mime.TypeByExtension("." + ext); mt != "" {
		return mt
	}
	// fallbacks
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "bmp":
		return "image/bmp"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
