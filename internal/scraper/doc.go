// Package scraper defines the core types shared across subsystems: job
// and result models, the fetch request/response pair, the error
// taxonomy with its stable caller-facing codes, and the interfaces the
// fetchers, stores, and publishers implement.
package scraper
