package web

import "embed"

// Content holds the embedded live-tracker frontend (index.html, app.js, styles.css).
//
//go:embed index.html app.js styles.css
var Content embed.FS
