//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// apiDoc is a hand-maintained OpenAPI 2.0 skeleton. `swag init` regenerates
// the full document from the handler annotations.
const apiDoc = `{
  "swagger": "2.0",
  "info": {"title": "llamabridge debug API", "version": "1.0"},
  "basePath": "/",
  "paths": {
    "/initialize": {"post": {"tags": ["lifecycle"], "summary": "Initialize the inference backend"}},
    "/models": {
      "get": {"tags": ["models"], "summary": "List GGUF files in the models directory"},
      "post": {"tags": ["models"], "summary": "Load a GGUF model and make it active"}
    },
    "/models/{handle}": {"delete": {"tags": ["models"], "summary": "Free a loaded model"}},
    "/info": {"get": {"tags": ["models"], "summary": "Describe a loaded model"}},
    "/generate": {"post": {"tags": ["generate"], "summary": "Generate text"}},
    "/status": {"get": {"tags": ["lifecycle"], "summary": "Bridge status"}},
    "/cleanup": {"post": {"tags": ["lifecycle"], "summary": "Free every model and shut the backend down"}}
  }
}`

type docProvider struct{}

func (docProvider) ReadDoc() string { return apiDoc }

func init() {
	swag.Register(swag.Name, docProvider{})
}

// MountSwagger serves the UI at /swagger/ and the document at /swagger/doc.json.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
