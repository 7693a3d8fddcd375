package web

import "embed"

// staticFiles holds the kiosk page: markup, script and stylesheet.
// Label images are not embedded; they are served from the configured
// images directory so they can be swapped without a rebuild.
//
//go:embed static/index.html static/app.js static/style.css
var staticFiles embed.FS
