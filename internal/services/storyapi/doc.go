// Package storyapi is the REST client for the life-story admin API.
//
// Every response passes through a normalization step that turns the
// backend's loosely shaped payloads into the canonical draft and interview
// types. Sections may arrive as an array or keyed object, verification
// entities under several casings, and metadata in camel or snake case;
// nothing past this package needs to know. Non-2xx responses become
// *APIError values tagged with the services error markers.
package storyapi
