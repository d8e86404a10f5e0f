//go:build llama

package engine

// cgo link directives for the in-process llama adapter.
//   - linux: rpath of $ORIGIN so libllama.so and libggml*.so are found next to
//     the built library or binary; -L points at ./bin for link time.
//   - darwin/ios: llama.cpp's Metal backend needs these frameworks when the
//     bridge is linked as a c-archive into the app.
/*
#cgo linux LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
#cgo darwin LDFLAGS: -framework Accelerate -framework Foundation -framework Metal -framework MetalKit
*/
import "C"
