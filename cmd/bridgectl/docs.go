package main

// General API documentation for swaggo. Run `swag init -g cmd/bridgectl/docs.go`
// to regenerate the document served under -tags=swagger.
//
// @title           llamabridge debug API
// @version         1.0
// @description     HTTP front for the on-device llama.cpp bridge, used from a desktop during app development.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
