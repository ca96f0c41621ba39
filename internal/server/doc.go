// Package server hosts the Fiber HTTP service that exposes the module host to
// operators: request middleware, JSON error rendering, and the shared HTTP
// clients used for module API calls and bundle manifest fetches. Route
// handlers live in the routes sub-package and receive explicit dependencies.
package server
