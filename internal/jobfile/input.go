package jobfile

import (
	"log/slog"
	"regexp"
)

var schemeRe = regexp.MustCompile(`^(\w+)://`)

// InputFileSpec carries the raw, optional flags for an input file. Nil
// pointers mean "not specified"; NewInputFile fills them in based on the
// most common use cases.
type InputFileSpec struct {
	Path        string
	Copy        *bool
	Share       *bool
	Forward     *bool
	Postfix     *bool
	Render      *bool // convenience switch covering RenderLocal/RenderJob
	RenderLocal *bool
	RenderJob   *bool
}

// InputFile is the resolved, immutable set of handling flags for a job
// input file.
type InputFile struct {
	Path        string
	Copy        bool
	Share       bool
	Forward     bool
	Postfix     bool
	RenderLocal bool
	RenderJob   bool
}

// Bool returns a pointer to b, for filling InputFileSpec fields inline.
func Bool(b bool) *bool {
	return &b
}

func maybeSet(current *bool, value bool) *bool {
	if current == nil {
		return &value
	}
	return current
}

func orDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// NewInputFile resolves a spec into an InputFile. Flags left unspecified are
// inferred rule by rule from the flags that were set, then topped up with
// residual defaults. Semantically void combinations are logged as warnings,
// never rejected.
func NewInputFile(spec InputFileSpec) *InputFile {
	copyf := spec.Copy
	share := spec.Share
	forward := spec.Forward
	postfix := spec.Postfix
	renderLocal := spec.RenderLocal
	renderJob := spec.RenderJob

	// convenience: a bare render flag means local rendering
	if spec.Render != nil && renderLocal == nil && renderJob == nil {
		renderLocal = Bool(*spec.Render)
		renderJob = Bool(false)
	}

	if copyf != nil && !*copyf {
		share = maybeSet(share, false)
		postfix = maybeSet(postfix, false)
		renderLocal = maybeSet(renderLocal, false)
	}
	if share != nil && *share {
		copyf = maybeSet(copyf, true)
		forward = maybeSet(forward, false)
		renderLocal = maybeSet(renderLocal, false)
		postfix = maybeSet(postfix, false)
	}
	if forward != nil && *forward {
		copyf = maybeSet(copyf, false)
		share = maybeSet(share, false)
		renderLocal = maybeSet(renderLocal, false)
		postfix = maybeSet(postfix, false)
	}
	if postfix != nil && *postfix {
		copyf = maybeSet(copyf, true)
		share = maybeSet(share, false)
		forward = maybeSet(forward, false)
	}
	if renderLocal != nil && *renderLocal {
		copyf = maybeSet(copyf, true)
		share = maybeSet(share, false)
		forward = maybeSet(forward, false)
		renderJob = maybeSet(renderJob, false)
	}
	if renderJob != nil && *renderJob {
		forward = maybeSet(forward, false)
		renderLocal = maybeSet(renderLocal, false)
	}

	f := &InputFile{
		Path:        spec.Path,
		Copy:        orDefault(copyf, true),
		Share:       orDefault(share, false),
		Forward:     orDefault(forward, false),
		Postfix:     orDefault(postfix, true),
		RenderLocal: orDefault(renderLocal, true),
		RenderJob:   orDefault(renderJob, false),
	}
	f.warnVoidCombinations()
	return f
}

func (f *InputFile) warnVoidCombinations() {
	logger := slog.With("path", f.Path)
	if !f.Copy && f.Postfix {
		logger.Warn("input file is configured not to be copied into the submission directory, but postfixing is enabled which has no effect")
	}
	if !f.Copy && f.Share {
		logger.Warn("input file is configured not to be copied into the submission directory, but sharing is enabled which has no effect")
	}
	if f.Copy && f.Forward {
		logger.Warn("input file is configured to be copied into the submission directory, but forwarding is enabled which has no effect")
	}
	if !f.Copy && f.RenderLocal {
		logger.Warn("input file is configured not to be copied into the submission directory, but rendering is enabled which has no effect")
	}
	if f.Share && f.RenderLocal {
		logger.Warn("input file is configured to be shared across jobs but local rendering is active, potentially resulting in wrong file content")
	}
	if f.RenderLocal && f.RenderJob {
		logger.Warn("input file is configured to be rendered locally and within the job, which is likely unnecessary")
	}
}

// Scheme returns the URI scheme of a path, or "" for plain local paths.
func Scheme(path string) string {
	m := schemeRe.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsRemote reports whether the path refers to a remote resource, i.e. has a
// non-empty scheme other than the local filesystem scheme.
func (f *InputFile) IsRemote() bool {
	s := Scheme(f.Path)
	return s != "" && s != "file"
}

func (f *InputFile) String() string {
	return f.Path
}
