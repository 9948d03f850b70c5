package conversion

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
)

// Fetched is a successfully unpacked file.
type Fetched struct {
	DataID       string
	FileName     string
	Dir          string
	MarkdownPath string
}

// Failure is a file that produced no usable result.
type Failure struct {
	DataID   string
	FileName string
	State    constants.ConversionState
	Message  string
	Err      error
}

type FetchReport struct {
	Fetched []Fetched
	Failed  []Failure
}

// Fetch downloads and unpacks the archive of every done file into
// dest/<data_id>. Files in any other state, and files whose archive cannot
// be fetched, are reported in Failed rather than returned as errors.
func (c *Client) Fetch(ctx context.Context, batchID string, results []Result, dest string) FetchReport {
	var rep FetchReport
	for _, r := range results {
		if r.State != constants.StateDone {
			msg := r.ErrMsg
			if msg == "" {
				msg = "conversion ended in state " + string(r.State)
			}
			c.logger.Warn("conversion.fetch.skipped", "batch_id", batchID, "data_id", r.DataID, "file", r.FileName, "state", r.State, "err_msg", msg)
			rep.Failed = append(rep.Failed, Failure{
				DataID: r.DataID, FileName: r.FileName, State: r.State, Message: msg,
				Err: common.ConversionFailure(r.DataID, msg),
			})
			continue
		}

		f, err := c.fetchOne(ctx, r, dest)
		if err != nil {
			c.logger.Error("conversion.fetch.failed", "batch_id", batchID, "data_id", r.DataID, "error", err)
			rep.Failed = append(rep.Failed, Failure{
				DataID: r.DataID, FileName: r.FileName, State: r.State, Message: err.Error(), Err: err,
			})
			continue
		}
		c.logger.Info("conversion.fetch.ok", "batch_id", batchID, "data_id", r.DataID, "dir", f.Dir)
		rep.Fetched = append(rep.Fetched, f)
	}
	return rep
}

func (c *Client) fetchOne(ctx context.Context, r Result, dest string) (Fetched, error) {
	if r.ZipURL == "" {
		return Fetched{}, common.ConversionFailure(r.DataID, "done without a result archive url")
	}
	name := filepath.Base(r.DataID)
	if r.DataID == "" || name != r.DataID || name == "." || name == ".." {
		return Fetched{}, common.InvalidInputError(fmt.Sprintf("unusable data_id %q", r.DataID))
	}

	tmp, err := os.CreateTemp("", "conversion-*.zip")
	if err != nil {
		return Fetched{}, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.ZipURL, nil)
	if err != nil {
		return Fetched{}, err
	}
	resp, err := c.download.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Fetched{}, ctx.Err()
		}
		return Fetched{}, common.TransportError(service, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fetched{}, common.TransportErrorf(service, "download status %d", resp.StatusCode)
	}
	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return Fetched{}, common.TransportError(service, fmt.Errorf("download archive: %w", err))
	}

	dir := filepath.Join(dest, name)
	if err := Unzip(tmp, size, dir); err != nil {
		return Fetched{}, err
	}
	md, err := findMarkdown(dir)
	if err != nil {
		return Fetched{}, err
	}
	return Fetched{DataID: r.DataID, FileName: r.FileName, Dir: filepath.Dir(md), MarkdownPath: md}, nil
}

// Unzip extracts an archive into dir. Entries that would land outside dir
// are rejected.
func Unzip(ra io.ReaderAt, size int64, dir string) error {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, zf := range zr.File {
		target := filepath.Join(dir, filepath.FromSlash(zf.Name))
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("archive entry %q escapes destination", zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeEntry(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", zf.Name, err)
	}
	defer src.Close()
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("extract %s: %w", zf.Name, err)
	}
	return dst.Close()
}

// findMarkdown returns the shallowest full.md under dir.
func findMarkdown(dir string) (string, error) {
	direct := filepath.Join(dir, constants.ConvertedMarkdown)
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == constants.ConvertedMarkdown {
			if found == "" || strings.Count(path, string(os.PathSeparator)) < strings.Count(found, string(os.PathSeparator)) {
				found = path
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", common.ConversionFailure(filepath.Base(dir), "archive has no "+constants.ConvertedMarkdown)
	}
	return found, nil
}
