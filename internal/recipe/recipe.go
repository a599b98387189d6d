// Package recipe - build-recipe templater for LAUNCHPAD.
//
// Emits per-framework container recipes. Recipes are deterministic:
// same framework label, same bytes. Every recipe listens on port 8080
// because the runtime routes to a fixed container port.
package recipe

import (
	"fmt"

	"launchpad/internal/models"
)

// Port is the fixed container listen port every recipe targets.
const Port = 8080

// Recipe is what the build orchestrator injects into the extracted archive.
type Recipe struct {
	Framework  models.Framework
	Dockerfile string
	// DefaultManifest is injected as requirements.txt when the archive
	// carries none and the framework is python. Empty otherwise.
	DefaultManifest string
	LaunchCommand   string
}

// For returns the recipe for a framework label. Unknown labels have no
// recipe; the caller fails the deployment before reaching here.
func For(fw models.Framework) (*Recipe, error) {
	switch fw {
	case models.FrameworkStreamlit:
		return &Recipe{
			Framework:       fw,
			Dockerfile:      pythonDockerfile(fmt.Sprintf("streamlit run app.py --server.port=%d --server.address=0.0.0.0 --server.headless=true", Port)),
			DefaultManifest: "streamlit\n",
			LaunchCommand:   "streamlit run app.py",
		}, nil
	case models.FrameworkGradio:
		return &Recipe{
			Framework:       fw,
			Dockerfile:      pythonDockerfile("python app.py"),
			DefaultManifest: "gradio\n",
			LaunchCommand:   "python app.py",
		}, nil
	case models.FrameworkFlask:
		return &Recipe{
			Framework:       fw,
			Dockerfile:      pythonDockerfile(fmt.Sprintf("gunicorn --bind 0.0.0.0:%d app:app", Port)),
			DefaultManifest: "flask\ngunicorn\n",
			LaunchCommand:   "gunicorn app:app",
		}, nil
	case models.FrameworkFastAPI:
		return &Recipe{
			Framework:       fw,
			Dockerfile:      pythonDockerfile(fmt.Sprintf("uvicorn main:app --host 0.0.0.0 --port %d", Port)),
			DefaultManifest: "fastapi\nuvicorn\n",
			LaunchCommand:   "uvicorn main:app",
		}, nil
	case models.FrameworkExpress:
		return &Recipe{
			Framework:     fw,
			Dockerfile:    nodeServerDockerfile(),
			LaunchCommand: "node index.js",
		}, nil
	case models.FrameworkNextJS:
		return &Recipe{
			Framework:     fw,
			Dockerfile:    nextDockerfile(),
			LaunchCommand: "npm start",
		}, nil
	case models.FrameworkReact:
		return &Recipe{
			Framework:     fw,
			Dockerfile:    staticBuildDockerfile(true),
			LaunchCommand: "caddy",
		}, nil
	case models.FrameworkStatic:
		return &Recipe{
			Framework:     fw,
			Dockerfile:    staticBuildDockerfile(false),
			LaunchCommand: "caddy",
		}, nil
	}
	return nil, fmt.Errorf("no build recipe for framework %q", fw)
}

func pythonDockerfile(cmd string) string {
	return fmt.Sprintf(`FROM python:3.12-slim
WORKDIR /app
COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt
COPY . .
ENV PORT=%d
EXPOSE %d
CMD %s
`, Port, Port, cmd)
}

func nodeServerDockerfile() string {
	return fmt.Sprintf(`FROM node:20-slim
WORKDIR /app
COPY package*.json ./
RUN npm ci --omit=dev || npm install --omit=dev
COPY . .
ENV PORT=%d
EXPOSE %d
CMD ["node", "index.js"]
`, Port, Port)
}

func nextDockerfile() string {
	return fmt.Sprintf(`FROM node:20-slim
WORKDIR /app
COPY package*.json ./
RUN npm ci || npm install
COPY . .
RUN npm run build
ENV PORT=%d
EXPOSE %d
CMD ["npm", "start"]
`, Port, Port)
}

// staticBuildDockerfile serves files with caddy. withBuild adds a node
// build stage for bundled apps.
func staticBuildDockerfile(withBuild bool) string {
	if withBuild {
		return fmt.Sprintf(`FROM node:20-slim AS build
WORKDIR /app
COPY package*.json ./
RUN npm ci || npm install
COPY . .
RUN npm run build && (cp -r dist /out 2>/dev/null || cp -r build /out)

FROM caddy:2-alpine
COPY --from=build /out /usr/share/caddy
EXPOSE %d
CMD ["caddy", "file-server", "--root", "/usr/share/caddy", "--listen", ":%d"]
`, Port, Port)
	}
	return fmt.Sprintf(`FROM caddy:2-alpine
COPY . /usr/share/caddy
EXPOSE %d
CMD ["caddy", "file-server", "--root", "/usr/share/caddy", "--listen", ":%d"]
`, Port, Port)
}
