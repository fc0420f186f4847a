package stager

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"jobforge/internal/apperrors"
)

var (
	renderKeyRe = regexp.MustCompile(`\{\{(\w+)\}\}`)
	// marker for paths inside render values that need input-file postfixing
	postfixMarkerRe = regexp.MustCompile(`__job_postfix__:(\S+)`)
)

// maxRenderDepth bounds transitive render-variable resolution so that
// reference cycles terminate instead of looping forever.
const maxRenderDepth = 10

// PostfixRule pairs a glob pattern with the postfix applied to matching base
// names.
type PostfixRule struct {
	Pattern string
	Postfix string
}

// Postfix is an ordered list of rules; the first pattern matching a file's
// base name wins, no match means no postfix.
type Postfix []PostfixRule

// Plain builds a postfix that applies to every file.
func Plain(postfix string) Postfix {
	return Postfix{{Pattern: "*", Postfix: postfix}}
}

func (p Postfix) resolve(basename string) string {
	for _, rule := range p {
		if ok, err := filepath.Match(rule.Pattern, basename); err == nil && ok {
			return rule.Postfix
		}
	}
	return ""
}

// pathHash returns a short, stable hash of the resolved absolute path.
func pathHash(path string) string {
	full := path
	if abs, err := filepath.Abs(os.ExpandEnv(path)); err == nil {
		full = abs
	}
	if real, err := filepath.EvalSymlinks(full); err == nil {
		full = real
	}
	sum := sha1.Sum([]byte(full))
	return hex.EncodeToString(sum[:])[:10]
}

// PostfixFile inserts the postfix right before the first dot-delimited
// extension in the base name:
//
//	PostfixFile("/path/to/file.tar.gz", Plain("_1"), false)
//	// -> "/path/to/file_1.tar.gz"
//
// With addHash, a hash of the full source path is prepended to the postfix,
// so staged files with identical base names from different directories do
// not collide.
func PostfixFile(path string, postfix Postfix, addHash bool) string {
	dirname, basename := filepath.Split(path)

	pf := postfix.resolve(basename)
	if addHash {
		pf = "_" + pathHash(path) + pf
	}
	if pf == "" {
		return path
	}

	parts := strings.SplitN(basename, ".", 2)
	parts[0] += pf
	return filepath.Join(dirname, strings.Join(parts, "."))
}

// PostfixInputFile is PostfixFile with the path hash enabled.
func PostfixInputFile(path string, postfix Postfix) string {
	return PostfixFile(path, postfix, true)
}

// PostfixOutputFile is PostfixFile without the path hash.
func PostfixOutputFile(path string, postfix Postfix) string {
	return PostfixFile(path, postfix, false)
}

// renderString replaces {{key}} with value.
func renderString(s, key, value string) string {
	return strings.ReplaceAll(s, "{{"+key+"}}", value)
}

// RenderFile reads src as text, substitutes every {{name}} token present in
// renderVariables, strips the remaining tokens and writes the result to dst.
// Variable values may smuggle paths needing the input-file postfix treatment
// via the __job_postfix__:<path> marker. A source that cannot be read as
// text is skipped silently unless silent is false.
func RenderFile(src, dst string, renderVariables map[string]string, postfix Postfix, silent bool) error {
	raw, err := os.ReadFile(src)
	if err != nil || !utf8.Valid(raw) || strings.ContainsRune(string(raw), 0) {
		if silent {
			return nil
		}
		if err != nil {
			return apperrors.Decode("stager.renderFile", fmt.Sprintf("cannot read render source %s: %v", src, err))
		}
		return apperrors.Decode("stager.renderFile", fmt.Sprintf("render source %s is not valid text", src))
	}

	content := string(raw)
	for key, value := range renderVariables {
		if postfix != nil {
			value = postfixMarkerRe.ReplaceAllStringFunc(value, func(m string) string {
				path := postfixMarkerRe.FindStringSubmatch(m)[1]
				return PostfixInputFile(path, postfix)
			})
		}
		content = renderString(content, key, value)
	}

	// unresolved variables vanish rather than erroring
	content = renderKeyRe.ReplaceAllString(content, "")

	if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
		return apperrors.Internal("stager.renderFile", err)
	}
	return nil
}

// LinearizeRenderVariables resolves variable values that reference other
// variables via {{name}} tokens:
//
//	{"a": "Tom", "b": "Hello, {{a}}!"}  ->  {"a": "Tom", "b": "Hello, Tom!"}
//
// Unknown names are stripped. Resolution is bounded, so reference cycles
// terminate with the residual tokens removed. Non-string values are a fatal
// input error. The flattened mapping itself is added under the key
// "render_variables" as base64-encoded JSON, for embedding into a single
// token that job scripts can decode back into a mapping.
func LinearizeRenderVariables(renderVariables map[string]any) (map[string]string, error) {
	linearized := make(map[string]string, len(renderVariables)+1)
	for key, raw := range renderVariables {
		value, ok := raw.(string)
		if !ok {
			return nil, apperrors.Validation("renderVariables",
				fmt.Sprintf("render variables must be strings, found %T for key %q", raw, key))
		}

		for range maxRenderDepth {
			matches := renderKeyRe.FindAllStringSubmatch(value, -1)
			if matches == nil {
				break
			}
			for _, m := range matches {
				sub, _ := renderVariables[m[1]].(string)
				value = renderString(value, m[1], sub)
			}
		}
		// a genuine reference cycle leaves tokens behind; drop them
		value = renderKeyRe.ReplaceAllString(value, "")
		linearized[key] = value
	}

	encoded, err := json.Marshal(linearized)
	if err != nil {
		return nil, apperrors.Internal("stager.linearizeRenderVariables", err)
	}
	linearized["render_variables"] = base64.StdEncoding.EncodeToString(encoded)

	return linearized, nil
}
