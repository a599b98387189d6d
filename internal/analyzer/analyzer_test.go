package analyzer

import (
	"archive/zip"
	"bytes"
	"strconv"
	"testing"

	"launchpad/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestAnalyze_PythonFrameworks(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     models.Framework
		entry    string
	}{
		{"streamlit", "streamlit==1.30.0\npandas\n", models.FrameworkStreamlit, "app.py"},
		{"gradio", "gradio\n", models.FrameworkGradio, "app.py"},
		{"fastapi", "fastapi\nuvicorn\n", models.FrameworkFastAPI, "main.py"},
		{"flask", "Flask==3.0\n", models.FrameworkFlask, "app.py"},
		{"streamlit wins over flask", "streamlit\nflask\n", models.FrameworkStreamlit, "app.py"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := zipOf(t, map[string]string{
				"requirements.txt": tt.manifest,
				"app.py":           "print('hi')",
			})
			res, err := Analyze(data, models.FrameworkUnknown)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Framework)
			assert.Equal(t, tt.entry, res.DetectedEntrypoint)
			assert.True(t, res.HasDependencyManifest)
			assert.False(t, res.HasNodeManifest)
		})
	}
}

func TestAnalyze_NodeFrameworks(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     models.Framework
	}{
		{"nextjs", `{"dependencies":{"next":"14.0.0","react":"18.0.0"}}`, models.FrameworkNextJS},
		{"react with vite", `{"dependencies":{"react":"18.0.0"},"devDependencies":{"vite":"5.0.0"}}`, models.FrameworkReact},
		{"react with cra", `{"dependencies":{"react":"18.0.0","react-scripts":"5.0.0"}}`, models.FrameworkReact},
		{"express", `{"dependencies":{"express":"4.18.0"}}`, models.FrameworkExpress},
		{"unrecognized node defaults to react", `{"dependencies":{"lodash":"4.17.0"}}`, models.FrameworkReact},
		{"malformed manifest defaults to react", `{not json`, models.FrameworkReact},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := zipOf(t, map[string]string{"package.json": tt.manifest})
			res, err := Analyze(data, models.FrameworkUnknown)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Framework)
			assert.True(t, res.HasNodeManifest)
		})
	}
}

func TestAnalyze_Fallbacks(t *testing.T) {
	t.Run("bare py file means streamlit", func(t *testing.T) {
		data := zipOf(t, map[string]string{"script.py": "x = 1"})
		res, err := Analyze(data, models.FrameworkUnknown)
		require.NoError(t, err)
		assert.Equal(t, models.FrameworkStreamlit, res.Framework)
		assert.False(t, res.HasDependencyManifest)
	})

	t.Run("index html means static", func(t *testing.T) {
		data := zipOf(t, map[string]string{"index.html": "<html></html>"})
		res, err := Analyze(data, models.FrameworkUnknown)
		require.NoError(t, err)
		assert.Equal(t, models.FrameworkStatic, res.Framework)
		assert.Equal(t, "index.html", res.DetectedEntrypoint)
	})

	t.Run("empty-ish archive defaults to streamlit", func(t *testing.T) {
		data := zipOf(t, map[string]string{"README.md": "hello"})
		res, err := Analyze(data, models.FrameworkUnknown)
		require.NoError(t, err)
		assert.Equal(t, models.FrameworkStreamlit, res.Framework)
	})

	t.Run("nested manifest one level deep is found", func(t *testing.T) {
		data := zipOf(t, map[string]string{
			"myapp/requirements.txt": "gradio\n",
			"myapp/app.py":           "pass",
		})
		res, err := Analyze(data, models.FrameworkUnknown)
		require.NoError(t, err)
		assert.Equal(t, models.FrameworkGradio, res.Framework)
	})
}

func TestAnalyze_Hint(t *testing.T) {
	data := zipOf(t, map[string]string{
		"requirements.txt": "flask\n",
		"app.py":           "pass",
	})
	res, err := Analyze(data, models.FrameworkGradio)
	require.NoError(t, err)
	assert.Equal(t, models.FrameworkGradio, res.Framework)
	assert.Equal(t, "app.py", res.DetectedEntrypoint)
	assert.True(t, res.HasDependencyManifest)
}

func TestAnalyze_Rejections(t *testing.T) {
	t.Run("not a zip", func(t *testing.T) {
		_, err := Analyze([]byte("definitely not a zip"), models.FrameworkUnknown)
		assert.ErrorIs(t, err, ErrNotZip)
	})

	t.Run("path traversal", func(t *testing.T) {
		data := zipOf(t, map[string]string{"../evil.sh": "rm -rf /"})
		_, err := Analyze(data, models.FrameworkUnknown)
		assert.ErrorIs(t, err, ErrUnsafeEntryPath)
	})

	t.Run("absolute path", func(t *testing.T) {
		data := zipOf(t, map[string]string{"/etc/passwd": "root"})
		_, err := Analyze(data, models.FrameworkUnknown)
		assert.ErrorIs(t, err, ErrUnsafeEntryPath)
	})

	t.Run("null byte in name", func(t *testing.T) {
		data := zipOf(t, map[string]string{"app\x00.py": "pass"})
		_, err := Analyze(data, models.FrameworkUnknown)
		assert.ErrorIs(t, err, ErrUnsafeEntryPath)
	})

	t.Run("too many entries", func(t *testing.T) {
		files := make(map[string]string, MaxEntries+1)
		for i := 0; i <= MaxEntries; i++ {
			files["file_"+strconv.Itoa(i)+".txt"] = "x"
		}
		data := zipOf(t, files)
		_, err := Analyze(data, models.FrameworkUnknown)
		assert.ErrorIs(t, err, ErrTooManyEntries)
	})

	t.Run("oversized manifest is flagged but not read", func(t *testing.T) {
		big := bytes.Repeat([]byte("streamlit\n"), (MaxManifestSize/10)+1)
		data := zipOf(t, map[string]string{
			"requirements.txt": string(big),
			"app.py":           "pass",
		})
		res, err := Analyze(data, models.FrameworkUnknown)
		require.NoError(t, err)
		// Content is ignored, so classification falls through to the
		// any-.py rule.
		assert.Equal(t, models.FrameworkStreamlit, res.Framework)
		assert.True(t, res.HasDependencyManifest)
	})
}
