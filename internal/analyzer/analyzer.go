// Package analyzer - framework classifier for LAUNCHPAD.
//
// Classification walks the archive's central directory, never the
// compressed payload. Manifests are decoded only when small enough, and
// text is utf-8 tolerant. The output framework label drives the build
// recipe, so the label set is closed; anything unrecognized degrades to
// a default rather than failing the deployment.
package analyzer

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"launchpad/internal/models"
)

const (
	// MaxUncompressedSize bounds the declared total expansion of the archive.
	MaxUncompressedSize = 200 << 20
	// MaxEntrySize bounds any single entry's declared expansion.
	MaxEntrySize = 100 << 20
	// MaxEntries bounds the central directory length.
	MaxEntries = 1000
	// MaxManifestSize bounds manifests read for classification.
	MaxManifestSize = 1 << 20
)

var (
	ErrNotZip          = errors.New("archive is not a zip file")
	ErrTooManyEntries  = fmt.Errorf("archive has more than %d entries", MaxEntries)
	ErrTooLarge        = errors.New("archive expands beyond the 200 MiB limit")
	ErrEntryTooLarge   = errors.New("archive entry expands beyond the per-file limit")
	ErrUnsafeEntryPath = errors.New("archive entry has an unsafe path")
)

// Result is what classification produces for the orchestrator.
type Result struct {
	Framework             models.Framework `json:"framework"`
	DetectedEntrypoint    string           `json:"detected_entrypoint"`
	HasDependencyManifest bool             `json:"has_dependency_manifest"`
	HasNodeManifest       bool             `json:"has_node_manifest"`
	FileList              []string         `json:"file_list"`
}

// nodeManifest is the slice of package.json the classifier reads.
type nodeManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (m *nodeManifest) has(name string) bool {
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}

// DefaultEntrypoint returns the conventional entry file for a framework.
func DefaultEntrypoint(fw models.Framework) string {
	switch fw {
	case models.FrameworkStreamlit, models.FrameworkGradio, models.FrameworkFlask:
		return "app.py"
	case models.FrameworkFastAPI:
		return "main.py"
	case models.FrameworkExpress:
		return "index.js"
	case models.FrameworkNextJS:
		return "pages/index.tsx"
	default:
		return "index.html"
	}
}

// Analyze classifies the archive bytes. A hint from the closed framework
// set short-circuits detection; the archive is still validated.
func Analyze(data []byte, hint models.Framework) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ErrNotZip
	}

	if len(zr.File) > MaxEntries {
		return nil, ErrTooManyEntries
	}

	var totalUncompressed uint64
	files := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if err := checkEntryPath(f.Name); err != nil {
			return nil, err
		}
		if f.UncompressedSize64 > MaxEntrySize {
			return nil, ErrEntryTooLarge
		}
		totalUncompressed += f.UncompressedSize64
		if totalUncompressed > MaxUncompressedSize {
			return nil, ErrTooLarge
		}
		files = append(files, f.Name)
	}

	if hint.Known() {
		return &Result{
			Framework:             hint,
			DetectedEntrypoint:    DefaultEntrypoint(hint),
			HasDependencyManifest: findEntry(zr, "requirements.txt") != nil,
			HasNodeManifest:       findEntry(zr, "package.json") != nil,
			FileList:              files,
		}, nil
	}

	pyManifest, hasPy := readManifest(zr, "requirements.txt")
	nodeRaw, hasNode := readManifest(zr, "package.json")

	var node nodeManifest
	if hasNode {
		// A malformed package.json keeps the manifest flag but
		// contributes no dependency signal.
		_ = json.Unmarshal([]byte(nodeRaw), &node)
	}

	fw := decide(&node, hasNode, pyManifest, files)

	return &Result{
		Framework:             fw,
		DetectedEntrypoint:    DefaultEntrypoint(fw),
		HasDependencyManifest: hasPy,
		HasNodeManifest:       hasNode,
		FileList:              files,
	}, nil
}

// decide applies the prioritized rules. First match wins.
func decide(node *nodeManifest, hasNode bool, pyManifest string, files []string) models.Framework {
	if hasNode {
		if node.has("next") {
			return models.FrameworkNextJS
		}
		if node.has("react") && (node.has("vite") || node.has("react-scripts")) {
			return models.FrameworkReact
		}
		if node.has("express") {
			return models.FrameworkExpress
		}
	}

	lowerPy := strings.ToLower(pyManifest)
	for _, candidate := range []struct {
		needle string
		label  models.Framework
	}{
		{"streamlit", models.FrameworkStreamlit},
		{"gradio", models.FrameworkGradio},
		{"fastapi", models.FrameworkFastAPI},
		{"flask", models.FrameworkFlask},
	} {
		if strings.Contains(lowerPy, candidate.needle) {
			return candidate.label
		}
	}

	hasPyFile := false
	hasIndexHTML := false
	for _, name := range files {
		if strings.HasSuffix(name, ".py") {
			hasPyFile = true
		}
		if path.Base(name) == "index.html" {
			hasIndexHTML = true
		}
	}

	if hasPyFile {
		return models.FrameworkStreamlit
	}
	if hasNode {
		return models.FrameworkReact
	}
	if hasIndexHTML {
		return models.FrameworkStatic
	}
	return models.FrameworkStreamlit
}

// checkEntryPath rejects traversal, absolute paths, and null bytes.
func checkEntryPath(name string) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return ErrUnsafeEntryPath
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return ErrUnsafeEntryPath
	}
	// Windows drive prefixes.
	if len(name) >= 2 && name[1] == ':' {
		return ErrUnsafeEntryPath
	}
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return ErrUnsafeEntryPath
		}
	}
	return nil
}

// findEntry locates a manifest at the archive root or one directory deep,
// which covers archives zipped with a single top-level folder.
func findEntry(zr *zip.Reader, base string) *zip.File {
	var nested *zip.File
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, "/")
		if name == base {
			return f
		}
		if nested == nil && path.Base(name) == base && strings.Count(name, "/") == 1 {
			nested = f
		}
	}
	return nested
}

// readManifest decodes a manifest entry when present and within bounds.
// Invalid utf-8 is replaced, never fatal.
func readManifest(zr *zip.Reader, base string) (string, bool) {
	f := findEntry(zr, base)
	if f == nil {
		return "", false
	}
	if f.UncompressedSize64 > MaxManifestSize {
		return "", true
	}
	rc, err := f.Open()
	if err != nil {
		return "", true
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxManifestSize))
	if err != nil {
		return "", true
	}
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("�"))
	}
	return string(data), true
}
