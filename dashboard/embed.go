// Package dashboard provides the embedded web UI for storefinder.
//
// The page opens a session against the HTTP API, reports the browser's
// geolocation result, lists the nearby stores and streams inventory
// quantities over Server-Sent Events. Users of the storefinder library
// should not need to interact with this package directly.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the web UI.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Store finder page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
