// Package memory provides mutex-guarded in-process implementations of the
// repository interfaces. They back the worker's no-database mode and the
// concurrency and end-to-end tests.
package memory
