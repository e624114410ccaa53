package plugin

import _ "embed"

//go:embed assets/icon.png
var iconPNG []byte
