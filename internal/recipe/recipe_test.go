package recipe

import (
	"strings"
	"testing"

	"launchpad/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForCoversEveryKnownFramework(t *testing.T) {
	for _, fw := range []models.Framework{
		models.FrameworkStreamlit, models.FrameworkGradio, models.FrameworkFlask,
		models.FrameworkFastAPI, models.FrameworkReact, models.FrameworkNextJS,
		models.FrameworkExpress, models.FrameworkStatic,
	} {
		t.Run(string(fw), func(t *testing.T) {
			r, err := For(fw)
			require.NoError(t, err)
			assert.Equal(t, fw, r.Framework)
			assert.NotEmpty(t, r.Dockerfile)
			assert.NotEmpty(t, r.LaunchCommand)
			assert.Contains(t, r.Dockerfile, "EXPOSE 8080")
		})
	}
}

func TestForUnknownFails(t *testing.T) {
	_, err := For(models.FrameworkUnknown)
	assert.Error(t, err)
}

func TestPythonRecipesCarryDefaultManifests(t *testing.T) {
	for fw, want := range map[models.Framework]string{
		models.FrameworkStreamlit: "streamlit",
		models.FrameworkGradio:    "gradio",
		models.FrameworkFlask:     "flask",
		models.FrameworkFastAPI:   "fastapi",
	} {
		r, err := For(fw)
		require.NoError(t, err)
		assert.Contains(t, r.DefaultManifest, want)
		assert.Contains(t, r.Dockerfile, "requirements.txt")
	}
}

func TestRecipesAreDeterministic(t *testing.T) {
	a, err := For(models.FrameworkStreamlit)
	require.NoError(t, err)
	b, err := For(models.FrameworkStreamlit)
	require.NoError(t, err)
	assert.Equal(t, a.Dockerfile, b.Dockerfile)
}

func TestNodeRecipesHaveNoPythonManifest(t *testing.T) {
	for _, fw := range []models.Framework{models.FrameworkExpress, models.FrameworkNextJS, models.FrameworkReact} {
		r, err := For(fw)
		require.NoError(t, err)
		assert.Empty(t, r.DefaultManifest)
		assert.True(t, strings.Contains(r.Dockerfile, "node") || strings.Contains(r.Dockerfile, "npm"))
	}
}
