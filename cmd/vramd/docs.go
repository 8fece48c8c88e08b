package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           vramd API
// @version         1.0
// @description     GPU-memory-aware residency control plane for local LLM backends.
//
// @contact.name   vramd maintainers
// @contact.url    https://github.com/your-org/vramd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
