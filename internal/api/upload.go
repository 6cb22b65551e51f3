package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/forPelevin/autoclip/internal/errs"
)

const maxFormValue = 4096

// uploadRules says what a multipart "file" part may be and where it goes.
type uploadRules struct {
	Dir      string
	Prefix   string
	MaxBytes int64
	Exts     map[string]bool
	// MediaTypes are the accepted Content-Type prefixes besides
	// application/octet-stream.
	MediaTypes []string
}

func (u uploadRules) allowsType(ct string) bool {
	if ct == "" || ct == "application/octet-stream" {
		return true
	}
	for _, p := range u.MediaTypes {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}

type savedUpload struct {
	Path     string
	Filename string
	Size     int64
}

// errTooLarge is matched by writeErr through http.MaxBytesError.
func errTooLarge(limit int64) error {
	return fmt.Errorf("file exceeds the %s limit: %w", humanize.Bytes(uint64(limit)), &http.MaxBytesError{Limit: limit})
}

// receiveUpload streams the "file" part to the rules' dir as
// <prefix>_<uuid><ext> and collects the other form fields. On error nothing
// is left on disk.
func receiveUpload(r *http.Request, rules uploadRules) (savedUpload, map[string]string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return savedUpload{}, nil, errs.Wrap(errs.Validation, err, "expected multipart/form-data")
	}

	form := map[string]string{}
	var saved *savedUpload
	fail := func(err error) (savedUpload, map[string]string, error) {
		if saved != nil {
			_ = os.Remove(saved.Path)
		}
		return savedUpload{}, nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return fail(errTooLarge(rules.MaxBytes))
			}
			return fail(errs.Wrap(errs.Validation, err, "malformed multipart body"))
		}

		if part.FormName() == "file" && saved == nil {
			up, err := storePart(part, rules)
			part.Close()
			if err != nil {
				return fail(err)
			}
			saved = &up
			continue
		}
		b, err := io.ReadAll(io.LimitReader(part, maxFormValue))
		part.Close()
		if err != nil {
			return fail(errs.Wrap(errs.Validation, err, "read form field"))
		}
		form[part.FormName()] = strings.TrimSpace(string(b))
	}

	if saved == nil {
		return savedUpload{}, nil, errs.New(errs.Validation, "file is required")
	}
	return *saved, form, nil
}

func storePart(part *multipart.Part, rules uploadRules) (savedUpload, error) {
	name, err := checkPart(part, rules)
	if err != nil {
		return savedUpload{}, err
	}
	ext := strings.ToLower(filepath.Ext(name))
	maxBytes := rules.MaxBytes

	if err := os.MkdirAll(rules.Dir, 0o755); err != nil {
		return savedUpload{}, errs.Wrap(errs.Storage, err, "create upload dir")
	}
	path := filepath.Join(rules.Dir, rules.Prefix+"_"+uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return savedUpload{}, errs.Wrap(errs.Storage, err, "create upload file")
	}

	n, err := io.Copy(f, io.LimitReader(part, maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		_ = os.Remove(path)
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return savedUpload{}, errTooLarge(maxBytes)
		}
		return savedUpload{}, errs.Wrap(errs.Storage, err, "write upload")
	case n > maxBytes:
		_ = os.Remove(path)
		return savedUpload{}, errTooLarge(maxBytes)
	}
	return savedUpload{Path: path, Filename: filepath.Base(name), Size: n}, nil
}

// checkPart validates a file part's name and type and returns its base name.
func checkPart(part *multipart.Part, rules uploadRules) (string, error) {
	name := part.FileName()
	if name == "" {
		return "", errs.New(errs.Validation, "filename is required")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !rules.Exts[ext] {
		return "", errs.Errorf(errs.Validation, "unsupported file extension %q", ext)
	}
	if !rules.allowsType(part.Header.Get("Content-Type")) {
		return "", errs.Errorf(errs.Validation, "unsupported content type %q", part.Header.Get("Content-Type"))
	}
	return filepath.Base(name), nil
}
