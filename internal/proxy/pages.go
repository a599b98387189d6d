package proxy

import (
	"fmt"
	"html"
)

const pageShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
%s<title>%s</title>
<style>
body { font-family: -apple-system, system-ui, sans-serif; background: #0f1117; color: #e5e7eb;
       display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
.card { text-align: center; max-width: 480px; padding: 2rem; }
h1 { font-size: 1.4rem; margin-bottom: .5rem; }
p { color: #9ca3af; line-height: 1.5; }
.spinner { width: 36px; height: 36px; margin: 0 auto 1.25rem; border: 3px solid #374151;
           border-top-color: #818cf8; border-radius: 50%%; animation: spin 1s linear infinite; }
@keyframes spin { to { transform: rotate(360deg); } }
code { background: #1f2430; padding: .15rem .4rem; border-radius: 4px; }
a { color: #818cf8; }
</style>
</head>
<body><div class="card">%s</div></body>
</html>`

func progressPage(label, status string) string {
	return fmt.Sprintf(pageShell,
		`<meta http-equiv="refresh" content="5">`,
		"Deploying...",
		fmt.Sprintf(`<div class="spinner"></div><h1>%s is on its way</h1>
<p>Current stage: <code>%s</code>. This page refreshes automatically.</p>`,
			html.EscapeString(label), html.EscapeString(status)))
}

func failedPage(label, reason string) string {
	detail := "The build did not complete."
	if reason != "" {
		detail = html.EscapeString(reason)
	}
	return fmt.Sprintf(pageShell, "",
		"Deployment failed",
		fmt.Sprintf(`<h1>%s could not be deployed</h1><p>%s</p>
<p>Fix the app and deploy again to reuse this subdomain.</p>`,
			html.EscapeString(label), detail))
}

func expiredPage(label, apex string) string {
	return fmt.Sprintf(pageShell, "",
		"Deployment expired",
		fmt.Sprintf(`<h1>%s has expired</h1>
<p>Free-tier deployments live for a limited time. Deploy again at
<a href="https://%s">%s</a> to bring it back.</p>`,
			html.EscapeString(label), apex, apex))
}

func notFoundPage(label, apex string) string {
	return fmt.Sprintf(pageShell, "",
		"Not found",
		fmt.Sprintf(`<h1>Nothing lives at %s</h1>
<p>This subdomain is free. Claim it at <a href="https://%s">%s</a>.</p>`,
			html.EscapeString(label), apex, apex))
}

func errorPage(message string) string {
	return fmt.Sprintf(pageShell, "",
		"Temporarily unavailable",
		fmt.Sprintf(`<h1>Temporarily unavailable</h1><p>%s</p>`, html.EscapeString(message)))
}

func apexPage(apex string) string {
	return fmt.Sprintf(pageShell, "",
		"LAUNCHPAD",
		fmt.Sprintf(`<h1>LAUNCHPAD</h1>
<p>Zip it, ship it. Upload an archive and get a live app at
<code>yourname.%s</code> in minutes.</p>`, apex))
}
