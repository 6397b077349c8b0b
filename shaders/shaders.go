package shaders

import (
	_ "embed"
)

//go:embed extract_keys.wgsl
var ExtractKeysWGSL string

//go:embed bitonic_local.wgsl
var BitonicLocalWGSL string

//go:embed bitonic_global.wgsl
var BitonicGlobalWGSL string
