// Package core defines the domain types of the memory engine: prompts,
// engrams, metas, observations, retrieval results, responses, and the
// bookkeeping records (Process, FileNode) that the pipeline services
// exchange over the bus. Types here carry no behavior beyond construction,
// validation, and prompt rendering — all pipeline logic lives in the
// service packages.
package core
